package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"persona-runtime/internal/domain"
)

// ErrNotFound indica ausencia de fila; el caller decide los defaults.
var ErrNotFound = errors.New("not found")

// RelationshipRepository maneja la fila unica de scores por par
// (user_id, character_id).
type RelationshipRepository interface {
	Get(ctx context.Context, userID, characterID string) (domain.RelationshipScore, error)
	// UpsertLocked escribe los scores dentro de una transaccion con lock de
	// fila; unico punto del sistema con locking transaccional (fase 11).
	UpsertLocked(ctx context.Context, score domain.RelationshipScore) error
}

type PgRelationshipRepository struct {
	pool *pgxpool.Pool
}

func NewPgRelationshipRepository(pool *pgxpool.Pool) *PgRelationshipRepository {
	return &PgRelationshipRepository{pool: pool}
}

func (r *PgRelationshipRepository) Get(ctx context.Context, userID, characterID string) (domain.RelationshipScore, error) {
	const query = `
		SELECT user_id, character_id, trust, affection, attunement, interaction_count, updated_at
		FROM relationship_scores
		WHERE user_id = $1 AND character_id = $2
	`
	var s domain.RelationshipScore
	err := r.pool.QueryRow(ctx, query, userID, characterID).Scan(
		&s.UserID,
		&s.CharacterID,
		&s.Trust,
		&s.Affection,
		&s.Attunement,
		&s.InteractionCount,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RelationshipScore{}, ErrNotFound
	}
	if err != nil {
		return domain.RelationshipScore{}, err
	}
	return s, nil
}

func (r *PgRelationshipRepository) UpsertLocked(ctx context.Context, score domain.RelationshipScore) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Lock de fila si existe; el insert posterior es idempotente sobre el par.
	var existing string
	err = tx.QueryRow(ctx, `
		SELECT user_id FROM relationship_scores
		WHERE user_id = $1 AND character_id = $2
		FOR UPDATE
	`, score.UserID, score.CharacterID).Scan(&existing)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO relationship_scores (
			user_id, character_id, trust, affection, attunement, interaction_count, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, character_id) DO UPDATE SET
			trust = EXCLUDED.trust,
			affection = EXCLUDED.affection,
			attunement = EXCLUDED.attunement,
			interaction_count = EXCLUDED.interaction_count,
			updated_at = EXCLUDED.updated_at
	`,
		score.UserID,
		score.CharacterID,
		score.Trust,
		score.Affection,
		score.Attunement,
		score.InteractionCount,
		score.UpdatedAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

var _ RelationshipRepository = (*PgRelationshipRepository)(nil)
