package service

import (
	"context"
	"strings"

	"persona-runtime/internal/domain"
)

// emojiByEmotion mapea la emocion dominante del usuario a una decoracion.
var emojiByEmotion = map[string]string{
	domain.EmotionJoy:        "😄",
	domain.EmotionSadness:    "💙",
	domain.EmotionLove:       "❤️",
	domain.EmotionExcitement: "🎉",
	domain.EmotionSurprise:   "😮",
	domain.EmotionTrust:      "🤝",
}

// EmojiDecorator es un enricher de respuesta: transformacion pura de string
// segun la politica de emojis del personaje.
type EmojiDecorator struct {
	policy  domain.EmojiPolicy
	emotion func() domain.EmotionRecord
}

// NewEmojiDecorator recibe la politica y un accessor de la emocion del
// turno (ya calculada en fase 2; el decorador no re-invoca al clasificador).
func NewEmojiDecorator(policy domain.EmojiPolicy, emotion func() domain.EmotionRecord) *EmojiDecorator {
	return &EmojiDecorator{policy: policy, emotion: emotion}
}

func (d *EmojiDecorator) Name() string         { return "emoji_decorator" }
func (d *EmojiDecorator) Stage() EnricherStage { return StageResponse }

func (d *EmojiDecorator) Enrich(ctx context.Context, turn domain.Turn, response string) (string, error) {
	if !d.policy.Enabled || response == "" {
		return response, nil
	}
	max := d.policy.MaxPerMsg
	if max <= 0 {
		max = 1
	}
	if d.countExisting(response) >= max {
		return response, nil
	}

	var pick string
	if len(d.policy.Preferred) > 0 {
		pick = d.policy.Preferred[0]
	} else if d.emotion != nil {
		pick = emojiByEmotion[d.emotion().PrimaryEmotion]
	}
	if pick == "" {
		return response, nil
	}
	return strings.TrimSpace(response) + " " + pick, nil
}

// countExisting cuenta cuantas decoraciones conocidas trae ya la respuesta:
// el catalogo por emocion mas los preferidos del personaje, sin contar dos
// veces un emoji presente en ambos.
func (d *EmojiDecorator) countExisting(response string) int {
	candidates := make(map[string]struct{}, len(emojiByEmotion)+len(d.policy.Preferred))
	for _, e := range emojiByEmotion {
		candidates[e] = struct{}{}
	}
	for _, e := range d.policy.Preferred {
		if e != "" {
			candidates[e] = struct{}{}
		}
	}
	count := 0
	for e := range candidates {
		count += strings.Count(response, e)
	}
	return count
}

var _ Enricher = (*EmojiDecorator)(nil)
