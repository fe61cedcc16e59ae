package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"persona-runtime/internal/domain"
)

// CharacterRepository lee definiciones de personaje (read-mostly, C5).
type CharacterRepository interface {
	GetByID(ctx context.Context, characterID string) (domain.CharacterDefinition, error)
	Upsert(ctx context.Context, def domain.CharacterDefinition) error
}

type PgCharacterRepository struct {
	pool *pgxpool.Pool
}

func NewPgCharacterRepository(pool *pgxpool.Pool) *PgCharacterRepository {
	return &PgCharacterRepository{pool: pool}
}

func (r *PgCharacterRepository) GetByID(ctx context.Context, characterID string) (domain.CharacterDefinition, error) {
	const query = `
		SELECT id, name, archetype, personality_traits, communication_style, backstory, emoji_policy, updated_at
		FROM character_definitions
		WHERE id = $1
	`
	var def domain.CharacterDefinition
	var traits []byte
	var emojiPolicy []byte
	err := r.pool.QueryRow(ctx, query, characterID).Scan(
		&def.ID,
		&def.Name,
		&def.Archetype,
		&traits,
		&def.CommunicationStyle,
		&def.Backstory,
		&emojiPolicy,
		&def.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CharacterDefinition{}, ErrNotFound
	}
	if err != nil {
		return domain.CharacterDefinition{}, err
	}
	if len(traits) > 0 {
		if err := json.Unmarshal(traits, &def.PersonalityTraits); err != nil {
			return domain.CharacterDefinition{}, fmt.Errorf("unmarshal traits: %w", err)
		}
	}
	if len(emojiPolicy) > 0 {
		if err := json.Unmarshal(emojiPolicy, &def.EmojiPolicy); err != nil {
			return domain.CharacterDefinition{}, fmt.Errorf("unmarshal emoji policy: %w", err)
		}
	}
	return def, nil
}

func (r *PgCharacterRepository) Upsert(ctx context.Context, def domain.CharacterDefinition) error {
	traits, err := json.Marshal(def.PersonalityTraits)
	if err != nil {
		return fmt.Errorf("marshal traits: %w", err)
	}
	emojiPolicy, err := json.Marshal(def.EmojiPolicy)
	if err != nil {
		return fmt.Errorf("marshal emoji policy: %w", err)
	}
	const query = `
		INSERT INTO character_definitions (
			id, name, archetype, personality_traits, communication_style, backstory, emoji_policy, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			archetype = EXCLUDED.archetype,
			personality_traits = EXCLUDED.personality_traits,
			communication_style = EXCLUDED.communication_style,
			backstory = EXCLUDED.backstory,
			emoji_policy = EXCLUDED.emoji_policy,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		def.ID,
		def.Name,
		def.Archetype,
		traits,
		def.CommunicationStyle,
		def.Backstory,
		emojiPolicy,
		def.UpdatedAt,
	)
	return err
}

var _ CharacterRepository = (*PgCharacterRepository)(nil)
