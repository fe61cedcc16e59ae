package service

import (
	"sort"
	"strings"

	"persona-runtime/internal/llm"
)

// ComponentKind enumera los tipos de componente del prompt.
type ComponentKind string

const (
	KindCoreSystem              ComponentKind = "CORE_SYSTEM"
	KindAttachmentPolicy        ComponentKind = "ATTACHMENT_POLICY"
	KindUserFacts               ComponentKind = "USER_FACTS"
	KindMemoryNarrative         ComponentKind = "MEMORY_NARRATIVE"
	KindConversationSummary     ComponentKind = "CONVERSATION_SUMMARY"
	KindRecentHistory           ComponentKind = "RECENT_HISTORY"
	KindRelationshipContext     ComponentKind = "RELATIONSHIP_CONTEXT"
	KindConfidenceContext       ComponentKind = "CONFIDENCE_CONTEXT"
	KindCharacterIdentity       ComponentKind = "CHARACTER_IDENTITY"
	KindCharacterVoice          ComponentKind = "CHARACTER_VOICE"
	KindCharacterEmotionalState ComponentKind = "CHARACTER_EMOTIONAL_STATE"
	KindAIIdentityDisclosure    ComponentKind = "AI_IDENTITY_DISCLOSURE"
	KindAntiHallucination       ComponentKind = "ANTI_HALLUCINATION"
	KindStyleGuidance           ComponentKind = "STYLE_GUIDANCE"
)

// Encabezados de seccion por tipo de componente.
var sectionHeaders = map[ComponentKind]string{
	KindCoreSystem:              "",
	KindAttachmentPolicy:        "ATTACHMENT POLICY:",
	KindUserFacts:               "USER CONTEXT:",
	KindMemoryNarrative:         "RELEVANT MEMORIES:",
	KindConversationSummary:     "CONVERSATION SUMMARY:",
	KindRecentHistory:           "RECENT EXCHANGE:",
	KindRelationshipContext:     "RELATIONSHIP:",
	KindConfidenceContext:       "CONTEXT CONFIDENCE:",
	KindCharacterIdentity:       "",
	KindCharacterVoice:          "VOICE:",
	KindCharacterEmotionalState: "CURRENT EMOTIONAL STATE:",
	KindAIIdentityDisclosure:    "IDENTITY DISCLOSURE:",
	KindAntiHallucination:       "MEMORY DISCIPLINE:",
	KindStyleGuidance:           "STYLE:",
}

const antiHallucinationText = "You have no usable memories of prior conversations with this user. " +
	"Do not invent, imply, or reference shared history, past promises, or previous discussions. " +
	"If asked about the past, say honestly that you do not recall."

const maxHistoryMessages = 15

// PromptComponent es una pieza priorizada y presupuestada del prompt.
type PromptComponent struct {
	Kind          ComponentKind
	Priority      int
	Required      bool
	Content       string
	TokenEstimate int
	Condition     func() bool
}

// HistoryEntry es un intercambio previo para el bloque de mensajes.
type HistoryEntry struct {
	UserContent string
	BotContent  string
}

// PromptAssembler arma el prompt final: componentes ordenados por prioridad,
// deduplicados y recortados al presupuesto de tokens.
type PromptAssembler struct {
	tokenBudget      int
	dedupPrefixChars int
}

func NewPromptAssembler(tokenBudget, dedupPrefixChars int) *PromptAssembler {
	if tokenBudget <= 0 {
		tokenBudget = 16000
	}
	if dedupPrefixChars <= 0 {
		dedupPrefixChars = 100
	}
	return &PromptAssembler{tokenBudget: tokenBudget, dedupPrefixChars: dedupPrefixChars}
}

// Assemble produce la lista de mensajes para el LLM: un system message con
// los componentes renderizados, el historial reciente alternado y el mensaje
// actual del usuario al final.
func (a *PromptAssembler) Assemble(components []PromptComponent, history []HistoryEntry, userMessage string) []llm.Message {
	kept := a.resolve(components)

	var sb strings.Builder
	for i, c := range kept {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		header := sectionHeaders[c.Kind]
		if header != "" {
			sb.WriteString(header)
			sb.WriteString("\n")
		}
		sb.WriteString(strings.TrimSpace(c.Content))
	}

	messages := []llm.Message{{Role: "system", Content: sb.String()}}

	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	for _, h := range history {
		if h.UserContent != "" {
			messages = append(messages, llm.Message{Role: "user", Content: h.UserContent})
		}
		if h.BotContent != "" {
			messages = append(messages, llm.Message{Role: "assistant", Content: h.BotContent})
		}
	}

	messages = append(messages, llm.Message{Role: "user", Content: userMessage})
	return messages
}

// resolve aplica el algoritmo de ensamblado: filtrar, ordenar estable,
// deduplicar y resolver presupuesto.
func (a *PromptAssembler) resolve(components []PromptComponent) []PromptComponent {
	// 1. Condiciones falsas y contenido vacio afuera.
	filtered := make([]PromptComponent, 0, len(components))
	hasMemories := false
	for _, c := range components {
		if c.Condition != nil && !c.Condition() {
			continue
		}
		if strings.TrimSpace(c.Content) == "" {
			continue
		}
		if c.Kind == KindMemoryNarrative {
			hasMemories = true
		}
		filtered = append(filtered, c)
	}

	// Regla anti-alucinacion: sin memorias usables, instruccion fija en
	// prioridad 5.
	if !hasMemories {
		filtered = append(filtered, PromptComponent{
			Kind:     KindAntiHallucination,
			Priority: 5,
			Required: true,
			Content:  antiHallucinationText,
		})
	}

	// 2. Orden estable por prioridad; prioridades iguales conservan el
	// orden de insercion.
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Priority < filtered[j].Priority
	})

	// 3. Dedup por prefijo del contenido.
	seen := make(map[string]struct{}, len(filtered))
	deduped := filtered[:0]
	for _, c := range filtered {
		key := strings.TrimSpace(c.Content)
		if len(key) > a.dedupPrefixChars {
			key = key[:a.dedupPrefixChars]
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, c)
	}

	// 4. Presupuesto.
	total := 0
	for i := range deduped {
		if deduped[i].TokenEstimate <= 0 {
			deduped[i].TokenEstimate = estimateTokens(deduped[i].Content)
		}
		total += deduped[i].TokenEstimate
	}
	if total <= a.tokenBudget {
		return deduped
	}

	// 4a/4b. Requeridos siempre; opcionales en orden de prioridad hasta
	// agotar presupuesto.
	budget := a.tokenBudget
	kept := make([]PromptComponent, 0, len(deduped))
	for _, c := range deduped {
		if c.Required {
			kept = append(kept, c)
			budget -= c.TokenEstimate
		}
	}
	for _, c := range deduped {
		if c.Required {
			continue
		}
		if c.TokenEstimate <= budget {
			kept = append(kept, c)
			budget -= c.TokenEstimate
		}
	}
	// Restaurar orden por prioridad tras la particion requeridos/opcionales.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Priority < kept[j].Priority
	})

	// 4c. Si los requeridos solos exceden, truncar narrativa y luego
	// historial; nunca componentes requeridos de otro tipo.
	if budget < 0 {
		deficit := -budget
		for _, kind := range []ComponentKind{KindMemoryNarrative, KindRecentHistory} {
			if deficit <= 0 {
				break
			}
			for i := range kept {
				if kept[i].Kind != kind {
					continue
				}
				trimTokens := kept[i].TokenEstimate
				if trimTokens > deficit {
					trimTokens = deficit
				}
				kept[i].Content = truncateTokens(kept[i].Content, kept[i].TokenEstimate-trimTokens)
				kept[i].TokenEstimate -= trimTokens
				deficit -= trimTokens
			}
		}
		// Componentes que quedaron vacios tras el recorte salen.
		pruned := kept[:0]
		for _, c := range kept {
			if strings.TrimSpace(c.Content) != "" {
				pruned = append(pruned, c)
			}
		}
		kept = pruned
	}

	return kept
}

// estimateTokens aproxima tokens como chars/4.
func estimateTokens(content string) int {
	n := len(content) / 4
	if n == 0 && content != "" {
		n = 1
	}
	return n
}

func truncateTokens(content string, tokens int) string {
	if tokens <= 0 {
		return ""
	}
	maxChars := tokens * 4
	if len(content) <= maxChars {
		return content
	}
	return content[:maxChars]
}
