package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"

	"persona-runtime/internal/domain"
	"persona-runtime/internal/repository"
)

// Mocks de stores compartidos por los tests del paquete.

type mockMemoryRepo struct {
	mu         sync.Mutex
	memories   []domain.RetrievedMemory
	scrolled   []domain.ConversationMemory
	recommends []domain.RetrievedMemory
	upserts    []domain.ConversationMemory
	searchErr  error
	upsertErr  error
	scrollErr  error
}

func (m *mockMemoryRepo) Upsert(ctx context.Context, characterID string, memory domain.ConversationMemory) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, memory)
	return nil
}

func (m *mockMemoryRepo) upsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.upserts)
}

func (m *mockMemoryRepo) GetByID(ctx context.Context, characterID string, id uuid.UUID) (domain.ConversationMemory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.upserts {
		if mem.ID == id {
			return mem, nil
		}
	}
	return domain.ConversationMemory{}, repository.ErrNotFound
}

func (m *mockMemoryRepo) Search(ctx context.Context, characterID, vectorName string, query pgvector.Vector, k int, filter repository.MemoryFilter) ([]domain.RetrievedMemory, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if len(m.memories) > k {
		return m.memories[:k], nil
	}
	return m.memories, nil
}

func (m *mockMemoryRepo) Scroll(ctx context.Context, characterID string, filter repository.MemoryFilter, k int) ([]domain.ConversationMemory, error) {
	if m.scrollErr != nil {
		return nil, m.scrollErr
	}
	return m.scrolled, nil
}

func (m *mockMemoryRepo) Recommend(ctx context.Context, characterID string, positiveID uuid.UUID, negative repository.RecommendFilter, k int) ([]domain.RetrievedMemory, error) {
	return m.recommends, nil
}

type mockFactRepo struct {
	mu        sync.Mutex
	facts     []domain.UserFact
	related   []domain.UserFact
	upserts   []domain.UserFact
	listErr   error
	upsertErr error
}

func (m *mockFactRepo) Upsert(ctx context.Context, fact domain.UserFact) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, fact)
	return nil
}

func (m *mockFactRepo) ListByEffectiveWeight(ctx context.Context, userID, characterID string, filter repository.FactFilter, k int) ([]domain.UserFact, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if len(m.facts) > k {
		return m.facts[:k], nil
	}
	return m.facts, nil
}

func (m *mockFactRepo) SearchEntities(ctx context.Context, userID, characterID, entityQuery string, k int) ([]domain.UserFact, error) {
	return m.facts, nil
}

func (m *mockFactRepo) TwoHopRelated(ctx context.Context, userID, characterID, entityName string, k int) ([]domain.UserFact, error) {
	return m.related, nil
}

type mockRelationshipRepo struct {
	mu      sync.Mutex
	score   *domain.RelationshipScore
	upserts []domain.RelationshipScore
	getErr  error
}

func (m *mockRelationshipRepo) Get(ctx context.Context, userID, characterID string) (domain.RelationshipScore, error) {
	if m.getErr != nil {
		return domain.RelationshipScore{}, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.score == nil {
		return domain.RelationshipScore{}, repository.ErrNotFound
	}
	return *m.score, nil
}

func (m *mockRelationshipRepo) UpsertLocked(ctx context.Context, score domain.RelationshipScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, score)
	m.score = &score
	return nil
}

func (m *mockRelationshipRepo) upsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.upserts)
}

type mockCharacterRepo struct {
	def    domain.CharacterDefinition
	getErr error
	calls  int
}

func (m *mockCharacterRepo) GetByID(ctx context.Context, characterID string) (domain.CharacterDefinition, error) {
	m.calls++
	if m.getErr != nil {
		return domain.CharacterDefinition{}, m.getErr
	}
	return m.def, nil
}

func (m *mockCharacterRepo) Upsert(ctx context.Context, def domain.CharacterDefinition) error {
	m.def = def
	return nil
}

type mockMetricRepo struct {
	mu       sync.Mutex
	points   []domain.MetricPoint
	ranged   []domain.MetricPoint
	writeErr error
	rangeErr error
}

func (m *mockMetricRepo) Write(ctx context.Context, point domain.MetricPoint) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, point)
	return nil
}

func (m *mockMetricRepo) Range(ctx context.Context, measurement, characterID, userID string, since time.Time, k int) ([]domain.MetricPoint, error) {
	if m.rangeErr != nil {
		return nil, m.rangeErr
	}
	var out []domain.MetricPoint
	for _, p := range m.ranged {
		if p.Measurement == measurement {
			out = append(out, p)
		}
	}
	return out, nil
}

var _ repository.MemoryRepository = (*mockMemoryRepo)(nil)
var _ repository.FactRepository = (*mockFactRepo)(nil)
var _ repository.RelationshipRepository = (*mockRelationshipRepo)(nil)
var _ repository.CharacterRepository = (*mockCharacterRepo)(nil)
var _ repository.MetricRepository = (*mockMetricRepo)(nil)
