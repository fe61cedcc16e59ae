package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"persona-runtime/internal/domain"
)

func TestClassifyIntent(t *testing.T) {
	router := NewKnowledgeRouter(&mockFactRepo{}, &mockMetricRepo{}, zap.NewNop())

	cases := []struct {
		name    string
		message string
		want    QueryIntent
	}{
		{"frase temporal gana a todo", "have my tastes changed over time? what foods do I like?", IntentTemporalAnalysis},
		{"pregunta mas tipo de entidad es recall factual", "what foods do I like?", IntentFactualRecall},
		{"referencia a conversacion pasada es estilo", "we talked about my trip, remember?", IntentConversationStyle},
		{"quien es X es busqueda de entidad", "who is Marta?", IntentEntitySearch},
		{"mensaje generico fusiona", "I had a rough day at work", IntentMultiModal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := router.ClassifyIntent(tc.message); got != tc.want {
				t.Fatalf("ClassifyIntent(%q): got %s, want %s", tc.message, got, tc.want)
			}
		})
	}
}

func TestKnowledgeRouter_Fuse(t *testing.T) {
	turn := domain.Turn{UserID: "u1", CharacterID: "c1", Content: "tell me about my hobbies"}

	t.Run("hechos primero, memorias despues", func(t *testing.T) {
		facts := &mockFactRepo{facts: []domain.UserFact{
			{EntityName: "diving", RelationshipType: "loves", Confidence: 0.9, TemporalWeight: 1},
		}}
		router := NewKnowledgeRouter(facts, &mockMetricRepo{}, zap.NewNop())

		memories := []domain.RetrievedMemory{
			{ConversationMemory: domain.ConversationMemory{Content: "we chatted about music"}},
		}
		fused := router.Fuse(context.Background(), turn, IntentMultiModal, memories)

		if len(fused.Items) != 2 {
			t.Fatalf("items: got %d, want 2", len(fused.Items))
		}
		if fused.Items[0].Source != SourceStructured || fused.Items[1].Source != SourceVector {
			t.Fatalf("orden de fuentes incorrecto: %+v", fused.Items)
		}
	})

	t.Run("memoria que solapa un hecho se deduplica", func(t *testing.T) {
		facts := &mockFactRepo{facts: []domain.UserFact{
			{EntityName: "diving", RelationshipType: "loves", Confidence: 0.9, TemporalWeight: 1},
		}}
		router := NewKnowledgeRouter(facts, &mockMetricRepo{}, zap.NewNop())

		memories := []domain.RetrievedMemory{
			{ConversationMemory: domain.ConversationMemory{Content: "user said they love diving deep"}},
			{ConversationMemory: domain.ConversationMemory{Content: "user mentioned their cat"}},
		}
		fused := router.Fuse(context.Background(), turn, IntentMultiModal, memories)

		if len(fused.Memories) != 1 {
			t.Fatalf("memorias tras dedup: got %d, want 1", len(fused.Memories))
		}
		if fused.Memories[0].Content != "user mentioned their cat" {
			t.Fatalf("sobrevivio la memoria equivocada: %q", fused.Memories[0].Content)
		}
	})

	t.Run("atributo cuantificable agrega tendencia semanal", func(t *testing.T) {
		metrics := &mockMetricRepo{ranged: []domain.MetricPoint{
			{
				Measurement: domain.MeasurementUserEmotion,
				Tags:        map[string]string{"emotion": domain.EmotionJoy},
				Fields:      map[string]float64{"intensity": 0.6},
				Timestamp:   time.Now(),
			},
		}}
		router := NewKnowledgeRouter(&mockFactRepo{}, metrics, zap.NewNop())

		moodTurn := domain.Turn{UserID: "u1", CharacterID: "c1", Content: "has my mood improved?"}
		fused := router.Fuse(context.Background(), moodTurn, IntentTemporalAnalysis, nil)

		var found bool
		for _, item := range fused.Items {
			if item.Source == SourceTimeSeries {
				found = true
			}
		}
		if !found {
			t.Fatalf("esperaba item de serie temporal: %+v", fused.Items)
		}
	})

	t.Run("busqueda de entidad expande a dos saltos", func(t *testing.T) {
		facts := &mockFactRepo{
			facts: []domain.UserFact{
				{EntityName: "Marta", EntityType: "person", RelationshipType: "knows", Confidence: 0.9},
			},
			related: []domain.UserFact{
				{EntityName: "Marta", EntityType: "person", RelationshipType: "knows", Confidence: 0.9},
				{EntityName: "chess club", EntityType: "place", RelationshipType: "attends", Confidence: 0.7},
			},
		}
		router := NewKnowledgeRouter(facts, &mockMetricRepo{}, zap.NewNop())

		entityTurn := domain.Turn{UserID: "u1", CharacterID: "c1", Content: "who is Marta?"}
		fused := router.Fuse(context.Background(), entityTurn, IntentEntitySearch, nil)

		if len(fused.Facts) != 2 {
			t.Fatalf("hechos tras expansion: got %d, want 2 (%+v)", len(fused.Facts), fused.Facts)
		}
		var foundRelated bool
		for _, f := range fused.Facts {
			if f.EntityName == "chess club" {
				foundRelated = true
			}
		}
		if !foundRelated {
			t.Fatal("falta el hecho a dos saltos")
		}
	})

	t.Run("fallo del store relacional no rompe la fusion", func(t *testing.T) {
		facts := &mockFactRepo{listErr: context.DeadlineExceeded}
		router := NewKnowledgeRouter(facts, &mockMetricRepo{}, zap.NewNop())

		memories := []domain.RetrievedMemory{
			{ConversationMemory: domain.ConversationMemory{Content: "something"}},
		}
		fused := router.Fuse(context.Background(), turn, IntentMultiModal, memories)
		if len(fused.Memories) != 1 {
			t.Fatalf("la fusion debe seguir con las memorias: %+v", fused)
		}
	})
}
