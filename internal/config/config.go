package config

import "github.com/caarlos0/env/v10"

// Config centraliza la configuración del runtime.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	LLMAPIKey          string `env:"LLM_API_KEY,required"`
	LLMBaseURL         string `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LLMModelChat       string `env:"LLM_MODEL_CHAT" envDefault:"gpt-4o"`
	LLMModelExtraction string `env:"LLM_MODEL_EXTRACTION" envDefault:"gpt-4o-mini"`

	EmbeddingBaseURL string `env:"EMBEDDING_BASE_URL"`
	EmotionBaseURL   string `env:"EMOTION_BASE_URL"`

	JWTSecret string `env:"JWT_SECRET"`

	TokenBudget               int     `env:"TOKEN_BUDGET" envDefault:"16000"`
	TurnDeadlineMs            int     `env:"TURN_DEADLINE_MS" envDefault:"30000"`
	VectorCollectionPrefix    string  `env:"VECTOR_COLLECTION_PREFIX" envDefault:"memories_"`
	EnableEmojiDecoration     bool    `env:"ENABLE_EMOJI_DECORATION" envDefault:"false"`
	EnableAIDisclosure        bool    `env:"ENABLE_AI_IDENTITY_DISCLOSURE" envDefault:"true"`
	DedupHashPrefixChars      int     `env:"DEDUP_HASH_PREFIX_CHARS" envDefault:"100"`
	MemoryRecencyHalflifeDays float64 `env:"MEMORY_RECENCY_HALFLIFE_DAYS" envDefault:"30"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
