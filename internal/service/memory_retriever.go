package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"persona-runtime/internal/domain"
	"persona-runtime/internal/embedding"
	"persona-runtime/internal/repository"
)

const (
	retrieveSearchK = 20
	retrieveTopK    = 10
	dedupHashChars  = 200
)

// MemoryRetriever hace busqueda multi-vector con puntaje de calidad y
// deduplicacion sobre el vector store.
type MemoryRetriever struct {
	memories     repository.MemoryRepository
	embedder     embedding.Embedder
	halflifeDays float64
	logger       *zap.Logger
}

func NewMemoryRetriever(memories repository.MemoryRepository, embedder embedding.Embedder, halflifeDays float64, logger *zap.Logger) *MemoryRetriever {
	if halflifeDays <= 0 {
		halflifeDays = 30
	}
	return &MemoryRetriever{
		memories:     memories,
		embedder:     embedder,
		halflifeDays: halflifeDays,
		logger:       logger,
	}
}

// RetrievalResult acompaña las memorias con las banderas de degradacion.
type RetrievalResult struct {
	Memories       []domain.RetrievedMemory
	Degraded       bool
	NoPriorHistory bool
}

// SelectVector elige el vector nominado segun la intencion clasificada y la
// emocion del usuario. Regla determinista.
func SelectVector(intent QueryIntent, userEmotion domain.EmotionRecord) string {
	if intent == IntentConversationStyle || userEmotion.EmotionalIntensity >= 0.7 {
		return domain.VectorNameEmotion
	}
	if intent == IntentFactualRecall || intent == IntentEntitySearch {
		return domain.VectorNameSemantic
	}
	return domain.VectorNameContent
}

// queryPrefix arma el prefijo de embedding del vector elegido. Los prefijos
// estan congelados junto al esquema de vectores.
func queryPrefix(vectorName string, userEmotion domain.EmotionRecord, semanticKey string) string {
	switch vectorName {
	case domain.VectorNameEmotion:
		return embedding.EmotionPrefix(userEmotion.PrimaryEmotion)
	case domain.VectorNameSemantic:
		return embedding.SemanticPrefix(semanticKey)
	default:
		return embedding.ContentPrefix()
	}
}

// Retrieve ejecuta el algoritmo completo: embed de la query, busqueda k=20,
// puntaje de calidad, dedup por hash de contenido y top 10. Cualquier fallo
// devuelve lista vacia con la bandera degraded encendida; el turno sigue.
func (r *MemoryRetriever) Retrieve(ctx context.Context, turn domain.Turn, intent QueryIntent, userEmotion domain.EmotionRecord) RetrievalResult {
	vectorName := SelectVector(intent, userEmotion)
	prefix := queryPrefix(vectorName, userEmotion, SemanticKeyFor(turn.Content))

	queryVec, err := r.embedder.Embed(ctx, prefix+turn.Content)
	if err != nil {
		r.logger.Warn("retrieval embed failed", zap.Error(err), zap.String("vector", vectorName))
		return RetrievalResult{Degraded: true, NoPriorHistory: true}
	}

	hits, err := r.memories.Search(ctx, turn.CharacterID, vectorName, pgvector.NewVector(queryVec), retrieveSearchK, repository.MemoryFilter{
		UserID: turn.UserID,
		Kind:   domain.MemoryKindConversation,
	})
	if err != nil {
		r.logger.Warn("retrieval search failed", zap.Error(err), zap.String("vector", vectorName))
		return RetrievalResult{Degraded: true, NoPriorHistory: true}
	}

	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(hits))
	kept := make([]domain.RetrievedMemory, 0, len(hits))
	for _, h := range hits {
		h.Quality = r.qualityScore(h, now)
		key := contentHashKey(h.Content)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, h)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Quality > kept[j].Quality
	})
	if len(kept) > retrieveTopK {
		kept = kept[:retrieveTopK]
	}

	return RetrievalResult{
		Memories:       kept,
		NoPriorHistory: len(kept) < 3,
	}
}

// qualityScore combina similitud, metadatos emocionales y recencia:
// 0.55*sim + 0.25*(confianza*intensidad) + 0.20*exp(-edad/halflife).
func (r *MemoryRetriever) qualityScore(m domain.RetrievedMemory, now time.Time) float64 {
	ageDays := now.Sub(m.HappenedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	recency := math.Exp(-ageDays / r.halflifeDays)
	emotional := m.UserEmotion.Confidence * m.UserEmotion.EmotionalIntensity
	return 0.55*m.Similarity + 0.25*emotional + 0.20*recency
}

// RecentHistory trae los ultimos turnos en orden cronologico (scroll).
func (r *MemoryRetriever) RecentHistory(ctx context.Context, turn domain.Turn, k int) ([]domain.ConversationMemory, error) {
	mems, err := r.memories.Scroll(ctx, turn.CharacterID, repository.MemoryFilter{
		UserID: turn.UserID,
		Kind:   domain.MemoryKindConversation,
	}, k)
	if err != nil {
		return nil, err
	}
	// El scroll viene descendente; el prompt quiere cronologico.
	for i, j := 0, len(mems)-1; i < j; i, j = i+1, j-1 {
		mems[i], mems[j] = mems[j], mems[i]
	}
	return mems, nil
}

// DeriveConfidence calcula la terna de confianza a partir de las memorias
// recuperadas y la claridad emocional del mensaje.
func (r *MemoryRetriever) DeriveConfidence(memories []domain.RetrievedMemory, userEmotion domain.EmotionRecord) domain.ConfidenceSet {
	var contextConf float64
	if len(memories) > 0 {
		var sum float64
		for _, m := range memories {
			sum += m.Quality
		}
		contextConf = clamp01(sum / float64(len(memories)))
	}
	emotional := clamp01(userEmotion.EmotionClarity * userEmotion.Confidence)
	return domain.ConfidenceSet{
		Context:   contextConf,
		Emotional: emotional,
		Overall:   clamp01(0.6*contextConf + 0.4*emotional),
	}
}

// FindContradictions usa la query estilo recommend para traer memorias
// previas que contradicen una asercion nueva. Solo se loguean; la escritura
// nunca se bloquea.
func (r *MemoryRetriever) FindContradictions(ctx context.Context, characterID string, positiveID uuid.UUID, entityName, excludeRelationship string) []domain.RetrievedMemory {
	hits, err := r.memories.Recommend(ctx, characterID, positiveID, repository.RecommendFilter{
		EntityName:          entityName,
		ExcludeRelationship: excludeRelationship,
	}, 5)
	if err != nil {
		r.logger.Warn("contradiction query failed", zap.Error(err), zap.String("entity", entityName))
		return nil
	}
	return hits
}

// SemanticKeyFor deriva la clave semantica de una consulta: la palabra
// significativa mas larga del mensaje.
func SemanticKeyFor(message string) string {
	best := "general"
	for _, w := range strings.Fields(strings.ToLower(message)) {
		w = strings.Trim(w, ".,!?\"'")
		if len(w) > len(best) && !isStopword(w) {
			best = w
		}
	}
	return best
}

var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "always": {}, "because": {},
	"before": {}, "could": {}, "every": {}, "never": {}, "really": {},
	"should": {}, "something": {}, "their": {}, "there": {}, "these": {},
	"thing": {}, "think": {}, "those": {}, "today": {}, "would": {},
}

func isStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

func contentHashKey(content string) string {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) > dedupHashChars {
		trimmed = trimmed[:dedupHashChars]
	}
	sum := sha256.Sum256([]byte(trimmed))
	return hex.EncodeToString(sum[:])
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
