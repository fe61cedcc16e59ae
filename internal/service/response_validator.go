package service

import (
	"strings"
)

const (
	responseMaxChars    = 4000
	repeatChunkMin      = 40
	repeatMinOccurrence = 3
)

// bannedResponseTokens son artefactos internos que no deben llegar al
// usuario.
var bannedResponseTokens = []string{
	"[SYSTEM]",
	"RELEVANT MEMORIES:",
	"USER CONTEXT:",
	"IDENTITY DISCLOSURE:",
	"<|",
}

// ResponseVerdict describe el resultado de la validacion de fase 8.
type ResponseVerdict struct {
	OK         bool
	Sanitized  string
	Regenerate bool
	Reason     string
}

// ResponseValidator aplica topes de longitud, tokens prohibidos y deteccion
// de repeticion recursiva sobre la salida del LLM.
type ResponseValidator struct{}

func NewResponseValidator() *ResponseValidator {
	return &ResponseValidator{}
}

func (v *ResponseValidator) Validate(response string) ResponseVerdict {
	text := strings.TrimSpace(response)
	if text == "" {
		return ResponseVerdict{Regenerate: true, Reason: "empty response"}
	}

	for _, token := range bannedResponseTokens {
		if strings.Contains(text, token) {
			return ResponseVerdict{Regenerate: true, Reason: "banned token leaked"}
		}
	}

	if hasRecursiveRepeat(text) {
		text = truncateAtRepeat(text)
		if strings.TrimSpace(text) == "" {
			return ResponseVerdict{Regenerate: true, Reason: "degenerate repetition"}
		}
		return ResponseVerdict{OK: true, Sanitized: text, Reason: "repetition truncated"}
	}

	if len(text) > responseMaxChars {
		text = truncateAtSentence(text, responseMaxChars)
		return ResponseVerdict{OK: true, Sanitized: text, Reason: "length capped"}
	}

	return ResponseVerdict{OK: true, Sanitized: text}
}

// hasRecursiveRepeat detecta el mismo bloque de ≥40 chars repetido tres o
// mas veces consecutivas, el modo de falla tipico de decodificacion.
func hasRecursiveRepeat(text string) bool {
	if len(text) < repeatChunkMin*repeatMinOccurrence {
		return false
	}
	for size := repeatChunkMin; size <= len(text)/repeatMinOccurrence; size += repeatChunkMin / 2 {
		for start := 0; start+size*repeatMinOccurrence <= len(text); start += size / 2 {
			chunk := text[start : start+size]
			if strings.Count(text, chunk) >= repeatMinOccurrence &&
				strings.HasPrefix(text[start+size:], chunk) {
				return true
			}
		}
	}
	return false
}

func truncateAtRepeat(text string) string {
	for size := repeatChunkMin; size <= len(text)/2; size += repeatChunkMin / 2 {
		for start := 0; start+size*2 <= len(text); start += size / 2 {
			chunk := text[start : start+size]
			if strings.HasPrefix(text[start+size:], chunk) {
				return strings.TrimSpace(text[:start+size])
			}
		}
	}
	return text
}

func truncateAtSentence(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	cut := text[:maxChars]
	if idx := strings.LastIndexAny(cut, ".!?"); idx > maxChars/2 {
		return strings.TrimSpace(cut[:idx+1])
	}
	return strings.TrimSpace(cut)
}
