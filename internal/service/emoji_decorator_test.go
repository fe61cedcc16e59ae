package service

import (
	"context"
	"strings"
	"testing"

	"persona-runtime/internal/domain"
)

func TestEmojiDecorator_Enrich(t *testing.T) {
	joy := func() domain.EmotionRecord {
		return domain.EmotionRecord{PrimaryEmotion: domain.EmotionJoy}
	}
	turn := domain.Turn{UserID: "u1", CharacterID: "c1"}

	t.Run("politica deshabilitada no toca la respuesta", func(t *testing.T) {
		d := NewEmojiDecorator(domain.EmojiPolicy{Enabled: false}, joy)
		out, err := d.Enrich(context.Background(), turn, "hello there")
		if err != nil || out != "hello there" {
			t.Fatalf("got %q, err %v", out, err)
		}
	})

	t.Run("emoji preferido tiene prioridad", func(t *testing.T) {
		d := NewEmojiDecorator(domain.EmojiPolicy{Enabled: true, Preferred: []string{"✨"}}, joy)
		out, _ := d.Enrich(context.Background(), turn, "hello there")
		if !strings.HasSuffix(out, "✨") {
			t.Fatalf("esperaba el emoji preferido al final: %q", out)
		}
	})

	t.Run("sin preferidos usa la emocion del turno", func(t *testing.T) {
		d := NewEmojiDecorator(domain.EmojiPolicy{Enabled: true}, joy)
		out, _ := d.Enrich(context.Background(), turn, "hello there")
		if !strings.HasSuffix(out, emojiByEmotion[domain.EmotionJoy]) {
			t.Fatalf("esperaba emoji de joy: %q", out)
		}
	})

	t.Run("emocion sin mapeo deja la respuesta intacta", func(t *testing.T) {
		unknown := func() domain.EmotionRecord {
			return domain.EmotionRecord{PrimaryEmotion: domain.EmotionDisgust}
		}
		d := NewEmojiDecorator(domain.EmojiPolicy{Enabled: true}, unknown)
		out, _ := d.Enrich(context.Background(), turn, "hmm ok")
		if out != "hmm ok" {
			t.Fatalf("got %q", out)
		}
	})

	t.Run("respuesta que ya trae un emoji del catalogo no suma otro", func(t *testing.T) {
		d := NewEmojiDecorator(domain.EmojiPolicy{Enabled: true, MaxPerMsg: 1}, joy)
		in := "so exciting! 🎉"
		out, _ := d.Enrich(context.Background(), turn, in)
		if out != in {
			t.Fatalf("el tope por mensaje ya esta cubierto: %q", out)
		}
	})

	t.Run("el tope cuenta tambien los emojis preferidos", func(t *testing.T) {
		d := NewEmojiDecorator(domain.EmojiPolicy{Enabled: true, MaxPerMsg: 1, Preferred: []string{"✨"}}, joy)
		in := "a sparkling day ✨"
		out, _ := d.Enrich(context.Background(), turn, in)
		if out != in {
			t.Fatalf("el preferido presente ya cubre el tope: %q", out)
		}
	})

	t.Run("bajo el tope la respuesta se decora igual", func(t *testing.T) {
		d := NewEmojiDecorator(domain.EmojiPolicy{Enabled: true, MaxPerMsg: 2}, joy)
		out, _ := d.Enrich(context.Background(), turn, "double joy 😄")
		if !strings.HasSuffix(out, emojiByEmotion[domain.EmotionJoy]) {
			t.Fatalf("con tope 2 y un solo emoji debia decorar: %q", out)
		}
	})

	t.Run("respuesta vacia no se decora", func(t *testing.T) {
		d := NewEmojiDecorator(domain.EmojiPolicy{Enabled: true, Preferred: []string{"✨"}}, joy)
		out, _ := d.Enrich(context.Background(), turn, "")
		if out != "" {
			t.Fatalf("got %q", out)
		}
	})
}
