package domain

// Direcciones de la trayectoria emocional del bot.
const (
	TrajectoryIntensifying = "intensifying"
	TrajectoryCalming      = "calming"
	TrajectoryStable       = "stable"
)

// ConfidenceSet resume cuanto puede confiar el personaje en su contexto.
type ConfidenceSet struct {
	Overall   float64 `json:"overall"`
	Context   float64 `json:"context"`
	Emotional float64 `json:"emotional"`
}

// EmotionalTrajectory describe hacia donde va la emocion del bot.
type EmotionalTrajectory struct {
	CurrentEmotion   string   `json:"current_emotion"`
	Intensity        float64  `json:"intensity"`
	Direction        string   `json:"direction"`
	RecentEmotions   []string `json:"recent_emotions,omitempty"`
	DistinctEmotions int      `json:"distinct_emotions"`
}

// SecurityVerdict es el resultado de la validacion de entrada.
type SecurityVerdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// IntelligenceBundle es el estado de trabajo efimero de un turno. Se crea en
// la fase 0, se muta a lo largo de las fases y se descarta en la fase 12;
// nunca se persiste como unidad.
type IntelligenceBundle struct {
	UserEmotion EmotionRecord  `json:"user_emotion"`
	BotEmotion  *EmotionRecord `json:"bot_emotion,omitempty"`

	UserFacts         []UserFact          `json:"user_facts,omitempty"`
	RelationshipState RelationshipScore   `json:"relationship_state"`
	Confidence        ConfidenceSet       `json:"confidence"`
	BotTrajectory     EmotionalTrajectory `json:"bot_emotional_trajectory"`

	Memories         []RetrievedMemory `json:"-"`
	MemoryDegraded   bool              `json:"memory_degraded"`
	NoPriorHistory   bool              `json:"no_prior_history"`
	DetectedTopics   []string          `json:"detected_topics,omitempty"`
	DetectedEntities []string          `json:"detected_entities,omitempty"`
	SecurityVerdict  SecurityVerdict   `json:"security_verdict"`

	// Marcadores de fallo por slot (politica de propagacion: los sub-fallos
	// de las fases 2, 3 y 9 no suben como error).
	SlotFailures map[string]string `json:"slot_failures,omitempty"`
}

// MarkSlotFailure registra que un slot quedo vacio por un fallo aislado.
func (b *IntelligenceBundle) MarkSlotFailure(slot, reason string) {
	if b.SlotFailures == nil {
		b.SlotFailures = make(map[string]string)
	}
	b.SlotFailures[slot] = reason
}
