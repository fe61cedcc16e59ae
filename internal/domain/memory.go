package domain

import (
	"time"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"
)

// Tipos de memoria persistida en el vector store.
const (
	MemoryKindConversation = "conversation"
	MemoryKindEpisodic     = "episodic"
)

// Nombres de los vectores nominados. El esquema esta congelado: cambiar un
// nombre o un prefijo invalida todos los puntos ya almacenados.
const (
	VectorNameContent  = "content"
	VectorNameEmotion  = "emotion"
	VectorNameSemantic = "semantic"
)

// ConversationMemory es un punto persistente del vector store: el turno del
// usuario, la respuesta del bot y los tres vectores nominados.
type ConversationMemory struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"user_id"`
	CharacterID string    `json:"character_id"`
	Kind        string    `json:"kind"`

	Content     string `json:"content"`
	BotResponse string `json:"bot_response"`

	ContentEmbedding  pgvector.Vector `json:"-"`
	EmotionEmbedding  pgvector.Vector `json:"-"`
	SemanticEmbedding pgvector.Vector `json:"-"`

	UserEmotion EmotionRecord  `json:"user_emotion"`
	BotEmotion  *EmotionRecord `json:"bot_emotion,omitempty"`

	SemanticKey string    `json:"semantic_key,omitempty"`
	HappenedAt  time.Time `json:"happened_at"`
}

// RetrievedMemory es una memoria recuperada con sus puntajes de busqueda.
type RetrievedMemory struct {
	ConversationMemory
	Similarity float64 `json:"similarity"`
	Quality    float64 `json:"quality"`
}
