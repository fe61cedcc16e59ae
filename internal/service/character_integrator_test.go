package service

import (
	"strings"
	"testing"

	"persona-runtime/internal/domain"
)

func baseBundle() *domain.IntelligenceBundle {
	return &domain.IntelligenceBundle{
		UserEmotion:       domain.NeutralEmotion(),
		RelationshipState: domain.DefaultRelationshipScore("u1", "c1"),
		Confidence:        domain.ConfidenceSet{Overall: 0.7, Context: 0.7, Emotional: 0.7},
	}
}

func TestCharacterIntegrator_Integrate(t *testing.T) {
	realWorld := domain.CharacterDefinition{
		ID:        "c1",
		Name:      "Elena",
		Archetype: domain.ArchetypeRealWorld,
	}

	t.Run("siempre produce la identidad como requerida", func(t *testing.T) {
		ci := NewCharacterIntegrator(true)
		components := ci.Integrate(realWorld, baseBundle(), "hola")
		if len(components) == 0 {
			t.Fatal("esperaba componentes")
		}
		first := components[0]
		if first.Kind != KindCharacterIdentity || !first.Required || first.Priority != 1 {
			t.Fatalf("identidad mal formada: %+v", first)
		}
		if !strings.Contains(first.Content, "Elena") {
			t.Fatalf("la identidad debe nombrar al personaje: %q", first.Content)
		}
	})

	t.Run("pregunta directa por IA en personaje real_world revela", func(t *testing.T) {
		ci := NewCharacterIntegrator(true)
		components := ci.Integrate(realWorld, baseBundle(), "wait, are you an AI?")
		if !hasKind(components, KindAIIdentityDisclosure) {
			t.Fatal("esperaba componente de revelacion de identidad")
		}
	})

	t.Run("personaje fantasy no revela", func(t *testing.T) {
		ci := NewCharacterIntegrator(true)
		fantasy := realWorld
		fantasy.Archetype = domain.ArchetypeFantasy
		components := ci.Integrate(fantasy, baseBundle(), "are you an AI?")
		if hasKind(components, KindAIIdentityDisclosure) {
			t.Fatal("fantasy no debe gatillar revelacion")
		}
	})

	t.Run("revelacion deshabilitada por config no gatilla", func(t *testing.T) {
		ci := NewCharacterIntegrator(false)
		components := ci.Integrate(realWorld, baseBundle(), "are you an AI?")
		if hasKind(components, KindAIIdentityDisclosure) {
			t.Fatal("revelacion deshabilitada no debe aparecer")
		}
	})

	t.Run("mencion casual de IA no gatilla", func(t *testing.T) {
		ci := NewCharacterIntegrator(true)
		components := ci.Integrate(realWorld, baseBundle(), "I read an article about AI today")
		if hasKind(components, KindAIIdentityDisclosure) {
			t.Fatal("mencion casual no es pregunta directa")
		}
	})

	t.Run("confianza alta produce guia de intimidad", func(t *testing.T) {
		ci := NewCharacterIntegrator(true)
		bundle := baseBundle()
		bundle.RelationshipState.Trust = 0.9
		components := ci.Integrate(realWorld, bundle, "hola")
		guidance := findKind(components, KindStyleGuidance)
		if guidance == nil || !strings.Contains(guidance.Content, "trust") {
			t.Fatalf("esperaba guia de intimidad, got %+v", guidance)
		}
	})

	t.Run("intensidad alta con señal debil no gatilla empatia", func(t *testing.T) {
		ci := NewCharacterIntegrator(true)
		bundle := baseBundle()
		bundle.UserEmotion = domain.EmotionRecord{
			PrimaryEmotion:     domain.EmotionNeutral,
			Confidence:         0.1,
			EmotionalIntensity: 0.9,
		}
		components := ci.Integrate(realWorld, bundle, "hola")
		guidance := findKind(components, KindStyleGuidance)
		if guidance != nil && strings.Contains(guidance.Content, "empathy") {
			t.Fatal("señal debil no debe gatillar empatia elevada")
		}
	})
}

func TestEmotionalStateComponent(t *testing.T) {
	ci := NewCharacterIntegrator(true)

	t.Run("trayectoria vacia produce componente vacio", func(t *testing.T) {
		c := ci.EmotionalStateComponent(domain.EmotionalTrajectory{})
		if c.Content != "" {
			t.Fatalf("esperaba contenido vacio, got %q", c.Content)
		}
	})

	t.Run("trayectoria con datos describe el estado", func(t *testing.T) {
		c := ci.EmotionalStateComponent(domain.EmotionalTrajectory{
			CurrentEmotion: domain.EmotionJoy,
			Intensity:      0.8,
			Direction:      domain.TrajectoryIntensifying,
		})
		if !strings.Contains(c.Content, domain.EmotionJoy) || !strings.Contains(c.Content, domain.TrajectoryIntensifying) {
			t.Fatalf("contenido incompleto: %q", c.Content)
		}
		if c.Priority != 6 {
			t.Fatalf("prioridad: got %d, want 6", c.Priority)
		}
	})
}

func hasKind(components []PromptComponent, kind ComponentKind) bool {
	return findKind(components, kind) != nil
}

func findKind(components []PromptComponent, kind ComponentKind) *PromptComponent {
	for i := range components {
		if components[i].Kind == kind {
			return &components[i]
		}
	}
	return nil
}
