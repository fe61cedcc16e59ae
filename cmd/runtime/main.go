package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"persona-runtime/internal/config"
	"persona-runtime/internal/db"
	"persona-runtime/internal/embedding"
	"persona-runtime/internal/emotion"
	internalhttp "persona-runtime/internal/http"
	"persona-runtime/internal/llm"
	"persona-runtime/internal/repository"
	"persona-runtime/internal/service"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()
	if err := db.Ping(ctx, pool); err != nil {
		logger.Fatal("ping postgres", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("ping redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Stores.
	memoryRepo := repository.NewPgMemoryRepository(pool, cfg.VectorCollectionPrefix)
	factRepo := repository.NewPgFactRepository(pool)
	relationshipRepo := repository.NewPgRelationshipRepository(pool)
	characterRepo := service.NewCachedCharacterRepository(repository.NewPgCharacterRepository(pool))
	metricRepo := repository.NewRedisMetricRepository(redisClient)

	// Clientes externos.
	llmClient := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, nil)
	embedder := embedding.NewHTTPEmbedder(cfg.EmbeddingBaseURL, nil)
	analyzer := emotion.NewSerialAnalyzer(emotion.NewHTTPAnalyzer(cfg.EmotionBaseURL, nil))

	// Servicios.
	retriever := service.NewMemoryRetriever(memoryRepo, embedder, cfg.MemoryRecencyHalflifeDays, logger)
	router := service.NewKnowledgeRouter(factRepo, metricRepo, logger)
	trajectory := service.NewTrajectoryService(metricRepo, memoryRepo, logger)
	relationships := service.NewRelationshipEngine(relationshipRepo, metricRepo, logger)
	extractor := service.NewFactExtractor(llmClient, cfg.LLMModelExtraction)
	coordinator := service.NewPersistenceCoordinator(memoryRepo, factRepo, metricRepo, embedder, extractor, retriever, logger)

	pipeline := service.NewPipeline(service.PipelineDeps{
		Security:      service.NewSecurityValidator(),
		Analyzer:      analyzer,
		Facts:         factRepo,
		Characters:    characterRepo,
		Relationships: relationships,
		Router:        router,
		Retriever:     retriever,
		Trajectory:    trajectory,
		Integrator:    service.NewCharacterIntegrator(cfg.EnableAIDisclosure),
		Assembler:     service.NewPromptAssembler(cfg.TokenBudget, cfg.DedupHashPrefixChars),
		Responses:     service.NewResponseValidator(),
		Coordinator:   coordinator,
		Client:        llmClient,
		ChatModel:     cfg.LLMModelChat,
		EmojiEnabled:  cfg.EnableEmojiDecoration,
		TurnDeadline:  time.Duration(cfg.TurnDeadlineMs) * time.Millisecond,
		Logger:        logger,
	})

	var jwtService *service.JWTService
	if cfg.JWTSecret != "" {
		jwtService = service.NewJWTService(cfg.JWTSecret, 24*time.Hour)
	}

	engine := internalhttp.NewRouter(pipeline, jwtService, logger)

	logger.Info("runtime listening", zap.String("port", cfg.HTTPPort))
	if err := engine.Run(":" + cfg.HTTPPort); err != nil {
		logger.Fatal("http server", zap.Error(err))
	}
}
