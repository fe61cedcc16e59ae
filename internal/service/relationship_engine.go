package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"persona-runtime/internal/domain"
	"persona-runtime/internal/repository"
)

const (
	relationshipDecayAfter = 30 * 24 * time.Hour
	relationshipDecayRate  = 0.10
)

// RelationshipEngine lee, actualiza y puntua la terna
// confianza/afecto/sintonia por par (usuario, personaje).
type RelationshipEngine struct {
	repo    repository.RelationshipRepository
	metrics repository.MetricRepository
	logger  *zap.Logger
}

func NewRelationshipEngine(repo repository.RelationshipRepository, metrics repository.MetricRepository, logger *zap.Logger) *RelationshipEngine {
	return &RelationshipEngine{repo: repo, metrics: metrics, logger: logger}
}

// GetScores devuelve la terna actual, con defaults (0.5, 0.5, 0.5, 0) si no
// existe fila. El decaimiento por inactividad se aplica en la lectura; la
// escritura ocurre recien en la proxima actualizacion.
func (e *RelationshipEngine) GetScores(ctx context.Context, userID, characterID string) (domain.RelationshipScore, error) {
	score, err := e.repo.Get(ctx, userID, characterID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.DefaultRelationshipScore(userID, characterID), nil
	}
	if err != nil {
		return domain.DefaultRelationshipScore(userID, characterID), err
	}

	if time.Since(score.UpdatedAt) > relationshipDecayAfter {
		score.Trust = decayTowardNeutral(score.Trust)
		score.Affection = decayTowardNeutral(score.Affection)
		score.Attunement = decayTowardNeutral(score.Attunement)
	}
	return score, nil
}

// Update recalcula los scores post-respuesta (fase 11): señal de calidad,
// deltas, clip a [0,1], incremento del contador y escritura transaccional,
// seguida del punto de metrica.
func (e *RelationshipEngine) Update(ctx context.Context, turn domain.Turn, bundle *domain.IntelligenceBundle, response string) (domain.RelationshipScore, error) {
	current, err := e.GetScores(ctx, turn.UserID, turn.CharacterID)
	if err != nil {
		e.logger.Warn("relationship read before update failed", zap.Error(err))
	}

	quality := e.qualitySignal(bundle, turn.Content, response)

	positive := 0.0
	if bundle.UserEmotion.IsPositive() {
		positive = 1.0
	}
	current.Trust = clamp01(current.Trust + 0.01*(quality-0.5))
	current.Affection = clamp01(current.Affection + 0.015*(quality-0.5) + 0.005*positive)
	current.Attunement = clamp01(current.Attunement + 0.02*(quality-0.5))
	current.InteractionCount++
	current.UpdatedAt = time.Now().UTC()

	if err := e.repo.UpsertLocked(ctx, current); err != nil {
		return current, err
	}

	// El punto de metrica acompaña cada actualizacion; su fallo no revierte
	// la escritura relacional.
	if err := e.metrics.Write(ctx, domain.MetricPoint{
		Measurement: domain.MeasurementRelationship,
		Tags: map[string]string{
			"character": turn.CharacterID,
			"user_id":   turn.UserID,
		},
		Fields: map[string]float64{
			"trust":             current.Trust,
			"affection":         current.Affection,
			"attunement":        current.Attunement,
			"interaction_count": float64(current.InteractionCount),
		},
		Timestamp: current.UpdatedAt,
	}); err != nil {
		e.logger.Debug("relationship metric write failed", zap.Error(err))
	}

	return current, nil
}

// qualitySignal pondera confianza de contexto, alineacion emocional, ajuste
// de longitud y engagement.
func (e *RelationshipEngine) qualitySignal(bundle *domain.IntelligenceBundle, userMessage, response string) float64 {
	alignment := 0.5
	if bundle.BotEmotion != nil {
		alignment = 1 - math.Abs(bundle.UserEmotion.SentimentScore-bundle.BotEmotion.SentimentScore)/2
	}
	return 0.3*bundle.Confidence.Overall +
		0.3*alignment +
		0.2*responseLengthFit(response) +
		0.2*engagementHeuristic(userMessage, response)
}

// responseLengthFit premia respuestas dentro de una banda conversacional y
// penaliza monosilabos y muros de texto.
func responseLengthFit(response string) float64 {
	n := len(strings.TrimSpace(response))
	switch {
	case n == 0:
		return 0
	case n < 60:
		return float64(n) / 60
	case n <= 1200:
		return 1
	default:
		fit := 1 - float64(n-1200)/2400
		if fit < 0 {
			return 0
		}
		return fit
	}
}

// engagementHeuristic: media señal por devolver una pregunta, media por
// retomar vocabulario del usuario.
func engagementHeuristic(userMessage, response string) float64 {
	score := 0.0
	if strings.Contains(response, "?") {
		score += 0.5
	}
	respLower := strings.ToLower(response)
	for _, w := range strings.Fields(strings.ToLower(userMessage)) {
		w = strings.Trim(w, ".,!?\"'")
		if len(w) >= 5 && strings.Contains(respLower, w) {
			score += 0.5
			break
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

func decayTowardNeutral(v float64) float64 {
	return v + (0.5-v)*relationshipDecayRate
}
