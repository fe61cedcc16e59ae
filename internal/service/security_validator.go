package service

import (
	"regexp"
	"strings"

	"persona-runtime/internal/domain"
)

// Plantillas de respuesta visibles al usuario. Nunca exponen stores, stack
// traces ni nombres de modelo.
const (
	CannedSecurityRejection = "I can't help with that. Let's talk about something else."
	CannedTimeoutResponse   = "Sorry, I'm a little slow right now. Could you say that again in a moment?"
	CannedApologyResponse   = "Sorry, I lost my train of thought. What were you saying?"
)

// injectionPatterns cubre los intentos clasicos de manipulacion del prompt.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|rules|prompts)`),
	regexp.MustCompile(`(?i)(reveal|show|print|repeat)\s+(your\s+)?(system\s+prompt|instructions|rules)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(dan|developer\s+mode|jailbroken)`),
	regexp.MustCompile(`(?i)\bpretend\s+you\s+have\s+no\s+(rules|restrictions|guidelines)\b`),
}

// denyListTerms bloquea contenido que el personaje jamas debe procesar.
var denyListTerms = []string{
	"make a bomb",
	"build a weapon",
	"credit card dump",
	"child sexual",
}

// SecurityValidator decide en fase 1 si el turno entra al pipeline.
type SecurityValidator struct{}

func NewSecurityValidator() *SecurityValidator {
	return &SecurityValidator{}
}

// Validate devuelve el veredicto; un turno rechazado responde con la
// plantilla segura y no produce ninguna escritura.
func (v *SecurityValidator) Validate(turn domain.Turn) domain.SecurityVerdict {
	content := strings.TrimSpace(turn.Content)
	if content == "" {
		return domain.SecurityVerdict{Allowed: false, Reason: "empty message"}
	}
	for _, re := range injectionPatterns {
		if re.MatchString(content) {
			return domain.SecurityVerdict{Allowed: false, Reason: "prompt injection pattern"}
		}
	}
	lower := strings.ToLower(content)
	for _, term := range denyListTerms {
		if strings.Contains(lower, term) {
			return domain.SecurityVerdict{Allowed: false, Reason: "deny-list term"}
		}
	}
	return domain.SecurityVerdict{Allowed: true}
}
