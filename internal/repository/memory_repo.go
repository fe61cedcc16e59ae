package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"persona-runtime/internal/domain"
)

// MemoryFilter restringe busquedas y scrolls dentro de una coleccion.
type MemoryFilter struct {
	UserID string
	Kind   string
}

// RecommendFilter describe el conjunto en conflicto para deteccion de
// contradicciones: memorias que mencionan la misma entidad pero no expresan
// la relacion recien detectada.
type RecommendFilter struct {
	EntityName          string
	ExcludeRelationship string
}

// MemoryRepository es el contrato del vector store (C4). Las colecciones se
// particionan por personaje: todos los metodos reciben characterID y la
// coleccion se resuelve aqui, en el borde de la query, nunca por filtro de
// payload del caller.
type MemoryRepository interface {
	Upsert(ctx context.Context, characterID string, memory domain.ConversationMemory) error
	GetByID(ctx context.Context, characterID string, id uuid.UUID) (domain.ConversationMemory, error)
	Search(ctx context.Context, characterID, vectorName string, query pgvector.Vector, k int, filter MemoryFilter) ([]domain.RetrievedMemory, error)
	Scroll(ctx context.Context, characterID string, filter MemoryFilter, k int) ([]domain.ConversationMemory, error)
	Recommend(ctx context.Context, characterID string, positiveID uuid.UUID, negative RecommendFilter, k int) ([]domain.RetrievedMemory, error)
}

type PgMemoryRepository struct {
	pool             *pgxpool.Pool
	collectionPrefix string
}

func NewPgMemoryRepository(pool *pgxpool.Pool, collectionPrefix string) *PgMemoryRepository {
	return &PgMemoryRepository{pool: pool, collectionPrefix: collectionPrefix}
}

func (r *PgMemoryRepository) collectionFor(characterID string) string {
	return r.collectionPrefix + characterID
}

// Upsert inserta el punto con sus tres vectores en una sola sentencia:
// o se guardan los tres o la llamada falla.
func (r *PgMemoryRepository) Upsert(ctx context.Context, characterID string, memory domain.ConversationMemory) error {
	if len(memory.ContentEmbedding.Slice()) == 0 ||
		len(memory.EmotionEmbedding.Slice()) == 0 ||
		len(memory.SemanticEmbedding.Slice()) == 0 {
		return fmt.Errorf("memory %s: all three named vectors are required", memory.ID)
	}

	userEmotion, err := json.Marshal(memory.UserEmotion)
	if err != nil {
		return fmt.Errorf("marshal user emotion: %w", err)
	}
	var botEmotion interface{}
	if memory.BotEmotion != nil {
		b, err := json.Marshal(memory.BotEmotion)
		if err != nil {
			return fmt.Errorf("marshal bot emotion: %w", err)
		}
		botEmotion = b
	}

	kind := memory.Kind
	if kind == "" {
		kind = domain.MemoryKindConversation
	}
	happened := memory.HappenedAt
	if happened.IsZero() {
		happened = time.Now().UTC()
	}

	const query = `
		INSERT INTO conversation_memories (
			id, collection, user_id, character_id, kind, content, bot_response,
			content_embedding, emotion_embedding, semantic_embedding,
			user_emotion, bot_emotion, semantic_key, happened_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			bot_response = EXCLUDED.bot_response,
			bot_emotion = EXCLUDED.bot_emotion
	`
	_, err = r.pool.Exec(ctx, query,
		memory.ID,
		r.collectionFor(characterID),
		memory.UserID,
		memory.CharacterID,
		kind,
		memory.Content,
		memory.BotResponse,
		memory.ContentEmbedding,
		memory.EmotionEmbedding,
		memory.SemanticEmbedding,
		userEmotion,
		botEmotion,
		memory.SemanticKey,
		happened,
	)
	return err
}

func (r *PgMemoryRepository) GetByID(ctx context.Context, characterID string, id uuid.UUID) (domain.ConversationMemory, error) {
	const query = memorySelectColumns + `
		FROM conversation_memories
		WHERE collection = $1 AND id = $2
	`
	rows, err := r.pool.Query(ctx, query, r.collectionFor(characterID), id)
	if err != nil {
		return domain.ConversationMemory{}, err
	}
	defer rows.Close()

	memories, err := scanMemories(rows)
	if err != nil {
		return domain.ConversationMemory{}, err
	}
	if len(memories) == 0 {
		return domain.ConversationMemory{}, fmt.Errorf("memory %s not found", id)
	}
	return memories[0], nil
}

// Search busca por similitud coseno sobre el vector nominado indicado.
// La similitud se normaliza a [0,1].
func (r *PgMemoryRepository) Search(ctx context.Context, characterID, vectorName string, query pgvector.Vector, k int, filter MemoryFilter) ([]domain.RetrievedMemory, error) {
	if k <= 0 {
		k = 10
	}
	column, err := vectorColumn(vectorName)
	if err != nil {
		return nil, err
	}

	sql := memorySelectColumns + fmt.Sprintf(`, 1 - (%s <=> $2) / 2 AS similarity
		FROM conversation_memories
		WHERE collection = $1`, column)
	args := []interface{}{r.collectionFor(characterID), query}
	sql, args = appendMemoryFilter(sql, args, filter)
	sql += fmt.Sprintf(" ORDER BY %s <=> $2 LIMIT %d", column, k)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRetrieved(rows)
}

// Scroll devuelve puntos en orden cronologico inverso ("que acabamos de
// hablar").
func (r *PgMemoryRepository) Scroll(ctx context.Context, characterID string, filter MemoryFilter, k int) ([]domain.ConversationMemory, error) {
	if k <= 0 {
		k = 10
	}
	sql := memorySelectColumns + `
		FROM conversation_memories
		WHERE collection = $1`
	args := []interface{}{r.collectionFor(characterID)}
	sql, args = appendMemoryFilter(sql, args, filter)
	sql += fmt.Sprintf(" ORDER BY happened_at DESC LIMIT %d", k)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMemories(rows)
}

// Recommend devuelve puntos similares al ancla pero restringidos al conjunto
// en conflicto (misma entidad, distinta relacion). El ancla queda excluida.
func (r *PgMemoryRepository) Recommend(ctx context.Context, characterID string, positiveID uuid.UUID, negative RecommendFilter, k int) ([]domain.RetrievedMemory, error) {
	if k <= 0 {
		k = 5
	}
	sql := memorySelectColumns + `, 1 - (content_embedding <=> anchor.emb) / 2 AS similarity
		FROM conversation_memories,
			(SELECT content_embedding AS emb FROM conversation_memories WHERE collection = $1 AND id = $2) AS anchor
		WHERE collection = $1 AND id <> $2`
	args := []interface{}{r.collectionFor(characterID), positiveID}
	sql, args = appendRecommendFilter(sql, args, negative)
	sql += fmt.Sprintf(" ORDER BY content_embedding <=> anchor.emb LIMIT %d", k)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRetrieved(rows)
}

const memorySelectColumns = `
	SELECT id, user_id, character_id, kind, content, bot_response,
		content_embedding, emotion_embedding, semantic_embedding,
		user_emotion, bot_emotion, semantic_key, happened_at`

func vectorColumn(vectorName string) (string, error) {
	switch vectorName {
	case domain.VectorNameContent:
		return "content_embedding", nil
	case domain.VectorNameEmotion:
		return "emotion_embedding", nil
	case domain.VectorNameSemantic:
		return "semantic_embedding", nil
	default:
		return "", fmt.Errorf("unknown named vector %q", vectorName)
	}
}

// appendRecommendFilter acota el conjunto en conflicto: el contenido debe
// mencionar la entidad y no expresar ya la relacion nueva (una memoria que la
// expresa concuerda, no contradice).
func appendRecommendFilter(sql string, args []interface{}, negative RecommendFilter) (string, []interface{}) {
	if strings.TrimSpace(negative.EntityName) != "" {
		args = append(args, "%"+negative.EntityName+"%")
		sql += fmt.Sprintf(" AND content ILIKE $%d", len(args))
	}
	if strings.TrimSpace(negative.ExcludeRelationship) != "" {
		args = append(args, "%"+negative.ExcludeRelationship+"%")
		sql += fmt.Sprintf(" AND content NOT ILIKE $%d", len(args))
	}
	return sql, args
}

func appendMemoryFilter(sql string, args []interface{}, filter MemoryFilter) (string, []interface{}) {
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		sql += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		sql += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	return sql, args
}

func scanMemoryRow(rows pgxRows, m *domain.ConversationMemory, similarity *float64) error {
	var userEmotion []byte
	var botEmotion []byte
	dest := []interface{}{
		&m.ID,
		&m.UserID,
		&m.CharacterID,
		&m.Kind,
		&m.Content,
		&m.BotResponse,
		&m.ContentEmbedding,
		&m.EmotionEmbedding,
		&m.SemanticEmbedding,
		&userEmotion,
		&botEmotion,
		&m.SemanticKey,
		&m.HappenedAt,
	}
	if similarity != nil {
		dest = append(dest, similarity)
	}
	if err := rows.Scan(dest...); err != nil {
		return err
	}
	if len(userEmotion) > 0 {
		if err := json.Unmarshal(userEmotion, &m.UserEmotion); err != nil {
			return fmt.Errorf("unmarshal user emotion: %w", err)
		}
	}
	if len(botEmotion) > 0 {
		var rec domain.EmotionRecord
		if err := json.Unmarshal(botEmotion, &rec); err != nil {
			return fmt.Errorf("unmarshal bot emotion: %w", err)
		}
		m.BotEmotion = &rec
	}
	return nil
}

func scanMemories(rows pgxRows) ([]domain.ConversationMemory, error) {
	var memories []domain.ConversationMemory
	for rows.Next() {
		var m domain.ConversationMemory
		if err := scanMemoryRow(rows, &m, nil); err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return memories, nil
}

func scanRetrieved(rows pgxRows) ([]domain.RetrievedMemory, error) {
	var memories []domain.RetrievedMemory
	for rows.Next() {
		var m domain.RetrievedMemory
		if err := scanMemoryRow(rows, &m.ConversationMemory, &m.Similarity); err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return memories, nil
}

// pgxRows is a minimal interface to allow scanning from pgx rows and simplify testing.
type pgxRows interface {
	Next() bool
	Scan(...interface{}) error
	Err() error
	Close()
}

var _ MemoryRepository = (*PgMemoryRepository)(nil)
