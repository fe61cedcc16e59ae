package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"persona-runtime/internal/domain"
)

// FactFilter restringe lecturas por confianza y peso temporal minimos.
type FactFilter struct {
	MinConfidence     float64
	MinTemporalWeight float64
}

// FactRepository es el contrato relacional de hechos del usuario (C5).
type FactRepository interface {
	Upsert(ctx context.Context, fact domain.UserFact) error
	ListByEffectiveWeight(ctx context.Context, userID, characterID string, filter FactFilter, k int) ([]domain.UserFact, error)
	SearchEntities(ctx context.Context, userID, characterID, entityQuery string, k int) ([]domain.UserFact, error)
	TwoHopRelated(ctx context.Context, userID, characterID, entityName string, k int) ([]domain.UserFact, error)
}

type PgFactRepository struct {
	pool *pgxpool.Pool
}

func NewPgFactRepository(pool *pgxpool.Pool) *PgFactRepository {
	return &PgFactRepository{pool: pool}
}

// Upsert es determinista sobre la clave natural: la confianza toma el
// maximo y last_mentioned el mas reciente, asi el replay es idempotente.
func (r *PgFactRepository) Upsert(ctx context.Context, fact domain.UserFact) error {
	if strings.TrimSpace(fact.EntityName) == "" {
		return fmt.Errorf("fact entity_name is required")
	}
	if fact.TemporalWeight <= 0 {
		fact.TemporalWeight = 1
	}
	if fact.LastMentioned.IsZero() {
		fact.LastMentioned = time.Now().UTC()
	}

	const query = `
		INSERT INTO user_facts (
			user_id, character_id, entity_name, entity_type, relationship_type,
			confidence, last_mentioned, temporal_weight
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, character_id, entity_name, relationship_type) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			confidence = GREATEST(user_facts.confidence, EXCLUDED.confidence),
			last_mentioned = GREATEST(user_facts.last_mentioned, EXCLUDED.last_mentioned),
			temporal_weight = EXCLUDED.temporal_weight
	`
	_, err := r.pool.Exec(ctx, query,
		fact.UserID,
		fact.CharacterID,
		strings.TrimSpace(fact.EntityName),
		fact.EntityType,
		fact.RelationshipType,
		fact.Confidence,
		fact.LastMentioned,
		fact.TemporalWeight,
	)
	return err
}

// ListByEffectiveWeight ordena por confidence * temporal_weight descendente.
func (r *PgFactRepository) ListByEffectiveWeight(ctx context.Context, userID, characterID string, filter FactFilter, k int) ([]domain.UserFact, error) {
	if k <= 0 {
		k = 10
	}
	const query = factSelectColumns + `
		FROM user_facts
		WHERE user_id = $1 AND character_id = $2
			AND confidence >= $3 AND temporal_weight >= $4
		ORDER BY confidence * temporal_weight DESC, last_mentioned DESC
		LIMIT $5
	`
	rows, err := r.pool.Query(ctx, query, userID, characterID, filter.MinConfidence, filter.MinTemporalWeight, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFacts(rows)
}

// SearchEntities hace busqueda de texto sobre nombres de entidad.
func (r *PgFactRepository) SearchEntities(ctx context.Context, userID, characterID, entityQuery string, k int) ([]domain.UserFact, error) {
	if k <= 0 {
		k = 10
	}
	const query = factSelectColumns + `
		FROM user_facts
		WHERE user_id = $1 AND character_id = $2 AND entity_name ILIKE $3
		ORDER BY confidence * temporal_weight DESC
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, userID, characterID, "%"+entityQuery+"%", k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFacts(rows)
}

// TwoHopRelated recorre dos saltos sobre entidades compartidas por hechos:
// entidades ligadas a la entidad semilla por relaciones del mismo usuario.
func (r *PgFactRepository) TwoHopRelated(ctx context.Context, userID, characterID, entityName string, k int) ([]domain.UserFact, error) {
	if k <= 0 {
		k = 10
	}
	const query = `
		WITH RECURSIVE related AS (
			SELECT entity_name, entity_type, relationship_type, confidence, last_mentioned, temporal_weight, 1 AS depth
			FROM user_facts
			WHERE user_id = $1 AND character_id = $2 AND entity_name ILIKE $3
			UNION
			SELECT f.entity_name, f.entity_type, f.relationship_type, f.confidence, f.last_mentioned, f.temporal_weight, r.depth + 1
			FROM user_facts f
			JOIN related r ON f.entity_type = r.entity_type AND f.entity_name <> r.entity_name
			WHERE f.user_id = $1 AND f.character_id = $2 AND r.depth < 2
		)
		SELECT $1, $2, entity_name, entity_type, relationship_type, confidence, last_mentioned, temporal_weight
		FROM related
		ORDER BY confidence * temporal_weight DESC
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, userID, characterID, "%"+entityName+"%", k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFacts(rows)
}

const factSelectColumns = `
	SELECT user_id, character_id, entity_name, entity_type, relationship_type,
		confidence, last_mentioned, temporal_weight`

func scanFacts(rows pgxRows) ([]domain.UserFact, error) {
	var facts []domain.UserFact
	for rows.Next() {
		var f domain.UserFact
		if err := rows.Scan(
			&f.UserID,
			&f.CharacterID,
			&f.EntityName,
			&f.EntityType,
			&f.RelationshipType,
			&f.Confidence,
			&f.LastMentioned,
			&f.TemporalWeight,
		); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return facts, nil
}

var _ FactRepository = (*PgFactRepository)(nil)
