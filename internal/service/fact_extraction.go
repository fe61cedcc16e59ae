package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"persona-runtime/internal/domain"
	"persona-runtime/internal/llm"
)

const factExtractionPrompt = `You are a precise information extractor observing one exchange of a conversation.
Extract OBJECTIVE facts about the user as entity-relationship triples.
Return ONLY a JSON object in this exact shape:
{
  "facts": [
    {"entity_name": "deep-sea diving", "entity_type": "hobby", "relationship_type": "loves", "confidence": 0.85}
  ]
}

Rules:
- Only facts the user stated explicitly about themselves (likes, dislikes, relationships, places, possessions).
- entity_type is one of: hobby, food, person, place, media, possession, other.
- relationship_type is a single lowercase verb (loves, likes, hates, owns, lives_in, knows, works_as).
- confidence in [0,1] reflects how explicit the statement was.
- No facts about the assistant. No speculation. Empty list if nothing qualifies.`

// FactExtractor deriva tripletas estructuradas de un turno usando el modelo
// de extraccion (no el de chat).
type FactExtractor struct {
	client llm.Client
	model  string
}

func NewFactExtractor(client llm.Client, model string) *FactExtractor {
	return &FactExtractor{client: client, model: model}
}

type extractedFact struct {
	EntityName       string  `json:"entity_name"`
	EntityType       string  `json:"entity_type"`
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence"`
}

type extractionResponse struct {
	Facts []extractedFact `json:"facts"`
}

// Extract devuelve los hechos del mensaje del usuario listos para upsert.
func (e *FactExtractor) Extract(ctx context.Context, turn domain.Turn) ([]domain.UserFact, error) {
	messages := []llm.Message{
		{Role: "system", Content: factExtractionPrompt},
		{Role: "user", Content: strings.TrimSpace(turn.Content)},
	}
	completion, err := e.client.Complete(ctx, messages, llm.Options{
		Model:       e.model,
		Temperature: 0,
		MaxTokens:   400,
	})
	if err != nil {
		return nil, fmt.Errorf("llm extraction: %w", err)
	}

	cleaned := cleanLLMJSONResponse(completion.Text)
	if obj := extractFirstJSONObject(cleaned); obj != "" {
		cleaned = obj
	}

	var parsed extractionResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("parse extraction json: %w", err)
	}

	now := time.Now().UTC()
	facts := make([]domain.UserFact, 0, len(parsed.Facts))
	for _, f := range parsed.Facts {
		if strings.TrimSpace(f.EntityName) == "" || strings.TrimSpace(f.RelationshipType) == "" {
			continue
		}
		conf := clamp01(f.Confidence)
		facts = append(facts, domain.UserFact{
			UserID:           turn.UserID,
			CharacterID:      turn.CharacterID,
			EntityName:       strings.TrimSpace(f.EntityName),
			EntityType:       strings.TrimSpace(f.EntityType),
			RelationshipType: strings.ToLower(strings.TrimSpace(f.RelationshipType)),
			Confidence:       conf,
			LastMentioned:    now,
			TemporalWeight:   1,
		})
	}
	return facts, nil
}

// cleanLLMJSONResponse quita fences ```json ... ``` y BOM, dejando el contenido usable.
func cleanLLMJSONResponse(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	s = strings.TrimPrefix(s, "\uFEFF")

	reStart := regexp.MustCompile("(?is)^\\s*```(?:json)?\\s*")
	reEnd := regexp.MustCompile("(?is)\\s*```\\s*$")
	s = reStart.ReplaceAllString(s, "")
	s = reEnd.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func extractFirstJSONObject(input string) string {
	start := strings.IndexByte(input, '{')
	if start == -1 {
		return ""
	}

	inString := false
	escape := false
	depth := 0

	for i := start; i < len(input); i++ {
		ch := input[i]

		if inString {
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return input[start : i+1]
			}
			if depth < 0 {
				return ""
			}
		}
	}

	return ""
}
