package service

import (
	"context"
	"sync"
	"time"

	"persona-runtime/internal/domain"
	"persona-runtime/internal/repository"
)

const characterCacheTTL = time.Hour

// CachedCharacterRepository envuelve el repo de personajes con un cache en
// memoria de TTL fijo; la invalidacion explicita queda fuera del runtime.
type CachedCharacterRepository struct {
	inner repository.CharacterRepository

	mu      sync.RWMutex
	entries map[string]cachedCharacter
}

type cachedCharacter struct {
	def       domain.CharacterDefinition
	fetchedAt time.Time
}

func NewCachedCharacterRepository(inner repository.CharacterRepository) *CachedCharacterRepository {
	return &CachedCharacterRepository{
		inner:   inner,
		entries: make(map[string]cachedCharacter),
	}
}

func (c *CachedCharacterRepository) GetByID(ctx context.Context, characterID string) (domain.CharacterDefinition, error) {
	c.mu.RLock()
	entry, ok := c.entries[characterID]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < characterCacheTTL {
		return entry.def, nil
	}

	def, err := c.inner.GetByID(ctx, characterID)
	if err != nil {
		return domain.CharacterDefinition{}, err
	}

	c.mu.Lock()
	c.entries[characterID] = cachedCharacter{def: def, fetchedAt: time.Now()}
	c.mu.Unlock()
	return def, nil
}

func (c *CachedCharacterRepository) Upsert(ctx context.Context, def domain.CharacterDefinition) error {
	if err := c.inner.Upsert(ctx, def); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.entries, def.ID)
	c.mu.Unlock()
	return nil
}

var _ repository.CharacterRepository = (*CachedCharacterRepository)(nil)
