package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"persona-runtime/internal/domain"
	"persona-runtime/internal/repository"
)

const (
	trajectoryWindow      = 24 * time.Hour
	trajectorySlopeThresh = 0.05
	trajectoryMaxEmotions = 10
)

// TrajectoryService calcula la trayectoria emocional reciente del bot desde
// el time-series store, con fallback al vector store.
type TrajectoryService struct {
	metrics  repository.MetricRepository
	memories repository.MemoryRepository
	logger   *zap.Logger
}

func NewTrajectoryService(metrics repository.MetricRepository, memories repository.MemoryRepository, logger *zap.Logger) *TrajectoryService {
	return &TrajectoryService{metrics: metrics, memories: memories, logger: logger}
}

// Analyze devuelve la trayectoria de las ultimas 24 h: emocion actual,
// intensidad, direccion por pendiente y emociones recientes.
func (s *TrajectoryService) Analyze(ctx context.Context, characterID, userID string) (domain.EmotionalTrajectory, error) {
	intensities, emotions := s.fromMetrics(ctx, characterID, userID)
	if len(intensities) == 0 {
		intensities, emotions = s.fromMemories(ctx, characterID, userID)
	}
	if len(intensities) == 0 {
		return domain.EmotionalTrajectory{Direction: domain.TrajectoryStable}, nil
	}

	slope := linearSlope(intensities)
	direction := domain.TrajectoryStable
	switch {
	case slope > trajectorySlopeThresh:
		direction = domain.TrajectoryIntensifying
	case slope < -trajectorySlopeThresh:
		direction = domain.TrajectoryCalming
	}

	if len(emotions) > trajectoryMaxEmotions {
		emotions = emotions[len(emotions)-trajectoryMaxEmotions:]
	}
	distinct := map[string]struct{}{}
	for _, e := range emotions {
		distinct[e] = struct{}{}
	}

	current := ""
	if len(emotions) > 0 {
		current = emotions[len(emotions)-1]
	}

	return domain.EmotionalTrajectory{
		CurrentEmotion:   current,
		Intensity:        intensities[len(intensities)-1],
		Direction:        direction,
		RecentEmotions:   emotions,
		DistinctEmotions: len(distinct),
	}, nil
}

// fromMetrics es la fuente primaria: puntos bot_emotion de las ultimas 24 h.
func (s *TrajectoryService) fromMetrics(ctx context.Context, characterID, userID string) ([]float64, []string) {
	since := time.Now().Add(-trajectoryWindow)
	points, err := s.metrics.Range(ctx, domain.MeasurementBotEmotion, characterID, userID, since, 200)
	if err != nil {
		s.logger.Debug("trajectory metric read failed, falling back to vector store", zap.Error(err))
		return nil, nil
	}
	var intensities []float64
	var emotions []string
	for _, p := range points {
		intensities = append(intensities, p.Fields["intensity"])
		if e := p.Tags["emotion"]; e != "" {
			emotions = append(emotions, e)
		}
	}
	return intensities, emotions
}

// fromMemories es el fallback: hasta 10 respuestas recientes del bot con su
// emocion en el payload.
func (s *TrajectoryService) fromMemories(ctx context.Context, characterID, userID string) ([]float64, []string) {
	mems, err := s.memories.Scroll(ctx, characterID, repository.MemoryFilter{
		UserID: userID,
		Kind:   domain.MemoryKindConversation,
	}, trajectoryMaxEmotions)
	if err != nil {
		s.logger.Debug("trajectory memory fallback failed", zap.Error(err))
		return nil, nil
	}
	// Scroll descendente; la serie se recorre de mas viejo a mas nuevo.
	var intensities []float64
	var emotions []string
	for i := len(mems) - 1; i >= 0; i-- {
		if mems[i].BotEmotion == nil {
			continue
		}
		intensities = append(intensities, mems[i].BotEmotion.EmotionalIntensity)
		emotions = append(emotions, mems[i].BotEmotion.PrimaryEmotion)
	}
	return intensities, emotions
}

// linearSlope ajusta una recta por minimos cuadrados sobre la serie indexada.
func linearSlope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
