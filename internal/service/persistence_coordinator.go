package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"persona-runtime/internal/domain"
	"persona-runtime/internal/embedding"
	"persona-runtime/internal/repository"
)

const (
	extractionBudget    = 5 * time.Second
	secondaryWriteGrace = 2 * time.Second
)

// PersistenceCoordinator hace el fan-out de escrituras de la fase 9 a los
// tres stores en paralelo, con aislamiento de fallos por store. Commit
// retorna cuando el vector store confirmo (el unico critico); las
// escrituras relacional y de metricas reciben una gracia corta y sus fallos
// se registran sin propagarse.
type PersistenceCoordinator struct {
	memories  repository.MemoryRepository
	facts     repository.FactRepository
	metrics   repository.MetricRepository
	embedder  embedding.Embedder
	extractor *FactExtractor
	retriever *MemoryRetriever
	logger    *zap.Logger
}

func NewPersistenceCoordinator(
	memories repository.MemoryRepository,
	facts repository.FactRepository,
	metrics repository.MetricRepository,
	embedder embedding.Embedder,
	extractor *FactExtractor,
	retriever *MemoryRetriever,
	logger *zap.Logger,
) *PersistenceCoordinator {
	return &PersistenceCoordinator{
		memories:  memories,
		facts:     facts,
		metrics:   metrics,
		embedder:  embedder,
		extractor: extractor,
		retriever: retriever,
		logger:    logger,
	}
}

// Commit persiste el turno completo. Devuelve el id de la memoria escrita
// en C4 o error si esa escritura (la critica) fallo.
func (c *PersistenceCoordinator) Commit(ctx context.Context, turn domain.Turn, bundle *domain.IntelligenceBundle, response string) (uuid.UUID, error) {
	memoryID := uuid.New()

	memCh := make(chan error, 1)
	go func() {
		memCh <- c.writeMemory(ctx, memoryID, turn, bundle, response)
	}()

	// Escrituras secundarias: hechos (con presupuesto de extraccion propio)
	// y metricas. Corren fuera del camino critico.
	secondary, secondaryCtx := errgroup.WithContext(context.WithoutCancel(ctx))
	secondary.Go(func() error {
		c.writeFacts(secondaryCtx, memoryID, turn)
		return nil
	})
	secondary.Go(func() error {
		c.writeMetrics(secondaryCtx, turn, bundle)
		return nil
	})

	memErr := <-memCh

	done := make(chan struct{})
	go func() {
		_ = secondary.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(secondaryWriteGrace):
		c.logger.Warn("secondary persistence still in flight after grace period",
			zap.String("user_id", turn.UserID), zap.String("character_id", turn.CharacterID))
	}

	if memErr != nil {
		return uuid.Nil, fmt.Errorf("memory write: %w", memErr)
	}
	return memoryID, nil
}

// writeMemory embebe los tres vectores nominados y hace el upsert atomico.
func (c *PersistenceCoordinator) writeMemory(ctx context.Context, id uuid.UUID, turn domain.Turn, bundle *domain.IntelligenceBundle, response string) error {
	semanticKey := SemanticKeyFor(turn.Content)

	contentVec, err := c.embedder.Embed(ctx, embedding.ContentPrefix()+turn.Content)
	if err != nil {
		return fmt.Errorf("content embed: %w", err)
	}
	emotionVec, err := c.embedder.Embed(ctx, embedding.EmotionPrefix(bundle.UserEmotion.PrimaryEmotion)+turn.Content)
	if err != nil {
		return fmt.Errorf("emotion embed: %w", err)
	}
	semanticVec, err := c.embedder.Embed(ctx, embedding.SemanticPrefix(semanticKey)+turn.Content)
	if err != nil {
		return fmt.Errorf("semantic embed: %w", err)
	}

	memory := domain.ConversationMemory{
		ID:                id,
		UserID:            turn.UserID,
		CharacterID:       turn.CharacterID,
		Kind:              domain.MemoryKindConversation,
		Content:           turn.Content,
		BotResponse:       response,
		ContentEmbedding:  pgvector.NewVector(contentVec),
		EmotionEmbedding:  pgvector.NewVector(emotionVec),
		SemanticEmbedding: pgvector.NewVector(semanticVec),
		UserEmotion:       bundle.UserEmotion,
		BotEmotion:        bundle.BotEmotion,
		SemanticKey:       semanticKey,
		HappenedAt:        turn.ReceivedAt,
	}
	return c.memories.Upsert(ctx, turn.CharacterID, memory)
}

// CommitEpisodic persiste un momento notable como memoria episodica. El id
// es content-addressed (SHA1 del par usuario/personaje mas el contenido) asi
// el replay del mismo momento no duplica puntos.
func (c *PersistenceCoordinator) CommitEpisodic(ctx context.Context, turn domain.Turn, bundle *domain.IntelligenceBundle, summary string) error {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(turn.UserID+"|"+turn.CharacterID+"|"+summary))
	semanticKey := SemanticKeyFor(summary)

	contentVec, err := c.embedder.Embed(ctx, embedding.ContentPrefix()+summary)
	if err != nil {
		return fmt.Errorf("content embed: %w", err)
	}
	emotionVec, err := c.embedder.Embed(ctx, embedding.EmotionPrefix(bundle.UserEmotion.PrimaryEmotion)+summary)
	if err != nil {
		return fmt.Errorf("emotion embed: %w", err)
	}
	semanticVec, err := c.embedder.Embed(ctx, embedding.SemanticPrefix(semanticKey)+summary)
	if err != nil {
		return fmt.Errorf("semantic embed: %w", err)
	}

	memory := domain.ConversationMemory{
		ID:                id,
		UserID:            turn.UserID,
		CharacterID:       turn.CharacterID,
		Kind:              domain.MemoryKindEpisodic,
		Content:           summary,
		ContentEmbedding:  pgvector.NewVector(contentVec),
		EmotionEmbedding:  pgvector.NewVector(emotionVec),
		SemanticEmbedding: pgvector.NewVector(semanticVec),
		UserEmotion:       bundle.UserEmotion,
		BotEmotion:        bundle.BotEmotion,
		SemanticKey:       semanticKey,
		HappenedAt:        turn.ReceivedAt,
	}
	return c.memories.Upsert(ctx, turn.CharacterID, memory)
}

// writeFacts extrae tripletas con el LLM dentro de su presupuesto y las
// upserta; en timeout se omite (la conversacion no se pierde, solo se
// retrasa la extraccion estructurada).
func (c *PersistenceCoordinator) writeFacts(ctx context.Context, memoryID uuid.UUID, turn domain.Turn) {
	if c.extractor == nil {
		return
	}
	extractCtx, cancel := context.WithTimeout(ctx, extractionBudget)
	defer cancel()

	facts, err := c.extractor.Extract(extractCtx, turn)
	if err != nil {
		c.logger.Warn("fact extraction skipped", zap.Error(err), zap.String("user_id", turn.UserID))
		return
	}

	for _, f := range facts {
		if err := c.facts.Upsert(ctx, f); err != nil {
			c.logger.Warn("fact upsert failed", zap.Error(err), zap.String("entity", f.EntityName))
			continue
		}
		// Deteccion de contradicciones: se loguean conflictos previos, la
		// escritura nunca se bloquea. Ambas memorias persisten.
		if c.retriever != nil {
			conflicts := c.retriever.FindContradictions(ctx, turn.CharacterID, memoryID, f.EntityName, f.RelationshipType)
			for _, conflict := range conflicts {
				c.logger.Info("prior memory may contradict new assertion",
					zap.String("entity", f.EntityName),
					zap.String("new_relationship", f.RelationshipType),
					zap.String("prior_memory_id", conflict.ID.String()),
				)
			}
		}
	}
}

// writeMetrics emite los puntos user_emotion, bot_emotion, confidence y
// quality. Fire-and-forget: los fallos se degradan a log.
func (c *PersistenceCoordinator) writeMetrics(ctx context.Context, turn domain.Turn, bundle *domain.IntelligenceBundle) {
	now := time.Now().UTC()
	tags := func(extra map[string]string) map[string]string {
		t := map[string]string{
			"character": turn.CharacterID,
			"user_id":   turn.UserID,
		}
		for k, v := range extra {
			t[k] = v
		}
		return t
	}

	points := []domain.MetricPoint{
		{
			Measurement: domain.MeasurementUserEmotion,
			Tags:        tags(map[string]string{"emotion": bundle.UserEmotion.PrimaryEmotion}),
			Fields: map[string]float64{
				"intensity":  bundle.UserEmotion.EmotionalIntensity,
				"confidence": bundle.UserEmotion.Confidence,
			},
			Timestamp: now,
		},
		{
			Measurement: domain.MeasurementConfidence,
			Tags:        tags(nil),
			Fields: map[string]float64{
				"user_fact_confidence":    avgFactConfidence(bundle.UserFacts),
				"relationship_confidence": (bundle.RelationshipState.Trust + bundle.RelationshipState.Attunement) / 2,
				"emotional_confidence":    bundle.Confidence.Emotional,
				"overall_confidence":      bundle.Confidence.Overall,
			},
			Timestamp: now,
		},
		{
			Measurement: domain.MeasurementQuality,
			Tags:        tags(nil),
			Fields: map[string]float64{
				"engagement_score":    bundle.Confidence.Context,
				"satisfaction_score":  bundle.Confidence.Overall,
				"natural_flow_score":  1 - bundle.UserEmotion.EmotionVariance,
				"emotional_resonance": bundle.Confidence.Emotional,
				"topic_relevance":     bundle.Confidence.Context,
			},
			Timestamp: now,
		},
	}
	if bundle.BotEmotion != nil {
		points = append(points, domain.MetricPoint{
			Measurement: domain.MeasurementBotEmotion,
			Tags:        tags(map[string]string{"emotion": bundle.BotEmotion.PrimaryEmotion}),
			Fields: map[string]float64{
				"intensity":  bundle.BotEmotion.EmotionalIntensity,
				"confidence": bundle.BotEmotion.Confidence,
			},
			Timestamp: now,
		})
	}

	for _, p := range points {
		if err := c.metrics.Write(ctx, p); err != nil {
			c.logger.Debug("metric write dropped", zap.Error(err), zap.String("measurement", p.Measurement))
		}
	}
}

func avgFactConfidence(facts []domain.UserFact) float64 {
	if len(facts) == 0 {
		return 0
	}
	var sum float64
	for _, f := range facts {
		sum += f.Confidence
	}
	return sum / float64(len(facts))
}
