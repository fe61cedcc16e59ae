package domain

// Etiquetas de emocion reconocidas por el clasificador externo.
const (
	EmotionJoy          = "joy"
	EmotionSadness      = "sadness"
	EmotionAnger        = "anger"
	EmotionFear         = "fear"
	EmotionSurprise     = "surprise"
	EmotionDisgust      = "disgust"
	EmotionTrust        = "trust"
	EmotionAnticipation = "anticipation"
	EmotionNeutral      = "neutral"
	EmotionLove         = "love"
	EmotionExcitement   = "excitement"
)

// EmotionRecord es el esquema fijo que devuelve el clasificador de emociones.
// Se calcula una vez por mensaje y se reusa en todos los consumidores; nadie
// fuera del pipeline debe re-invocar al clasificador.
type EmotionRecord struct {
	PrimaryEmotion      string             `json:"primary_emotion"`
	Confidence          float64            `json:"confidence"`
	EmotionalIntensity  float64            `json:"emotional_intensity"`
	IsMultiEmotion      bool               `json:"is_multi_emotion"`
	SecondaryEmotions   []string           `json:"secondary_emotions,omitempty"`
	EmotionVariance     float64            `json:"emotion_variance"`
	EmotionClarity      float64            `json:"emotion_clarity"`
	SentimentScore      float64            `json:"sentiment_score"`
	MixedEmotionCount   int                `json:"mixed_emotion_count"`
	EmotionalStability  float64            `json:"emotional_stability"`
	EmotionDistribution map[string]float64 `json:"emotion_distribution,omitempty"`
}

// IsPositive indica si el sentimiento neto del mensaje es positivo.
func (e EmotionRecord) IsPositive() bool {
	return e.SentimentScore > 0
}

// IsWeakSignal marca registros neutrales de baja confianza; no deben
// disparar guias de empatia elevada.
func (e EmotionRecord) IsWeakSignal() bool {
	return e.PrimaryEmotion == EmotionNeutral && e.Confidence < 0.3
}

// NeutralEmotion devuelve un registro neutro usable cuando el clasificador
// no esta disponible.
func NeutralEmotion() EmotionRecord {
	return EmotionRecord{
		PrimaryEmotion:     EmotionNeutral,
		Confidence:         0,
		EmotionalIntensity: 0,
		EmotionClarity:     0,
		EmotionalStability: 0.5,
	}
}
