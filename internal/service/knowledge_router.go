package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"persona-runtime/internal/domain"
	"persona-runtime/internal/repository"
)

// QueryIntent clasifica que clase de conocimiento pide un mensaje.
type QueryIntent string

const (
	IntentFactualRecall     QueryIntent = "factual_recall"
	IntentConversationStyle QueryIntent = "conversation_style"
	IntentTemporalAnalysis  QueryIntent = "temporal_analysis"
	IntentEntitySearch      QueryIntent = "entity_search"
	IntentMultiModal        QueryIntent = "multi_modal"
)

// Fuentes de los items fusionados.
const (
	SourceStructured = "S"
	SourceVector     = "V"
	SourceTimeSeries = "T"
)

// KnowledgeItem es una pieza de conocimiento anotada con su origen.
type KnowledgeItem struct {
	Source  string
	Content string
}

// FusedKnowledge es el resultado del router: hechos primero (verdad
// atemporal), memorias despues, mas una tendencia opcional.
type FusedKnowledge struct {
	Intent   QueryIntent
	Facts    []domain.UserFact
	Memories []domain.RetrievedMemory
	Items    []KnowledgeItem
}

// KnowledgeRouter clasifica la intencion de una consulta y despacha a los
// stores correspondientes, fusionando resultados cuando corresponde.
type KnowledgeRouter struct {
	facts   repository.FactRepository
	metrics repository.MetricRepository
	logger  *zap.Logger
}

func NewKnowledgeRouter(facts repository.FactRepository, metrics repository.MetricRepository, logger *zap.Logger) *KnowledgeRouter {
	return &KnowledgeRouter{facts: facts, metrics: metrics, logger: logger}
}

var temporalPhrases = []string{"over time", "lately", "used to", "these days", "recently", "has changed"}

var questionWords = []string{"what", "which", "who", "where", "when", "do i", "does my", "tell me"}

var entityTypeKeywords = []string{
	"food", "foods", "drink", "hobby", "hobbies", "music", "movie", "movies",
	"book", "books", "place", "places", "game", "games", "sport", "sports",
	"like", "love", "hate", "enjoy", "prefer", "favorite", "favourite",
}

var conversationStylePhrases = []string{"we talked about", "how did we", "last conversation", "you said", "we discussed", "did we talk"}

var entitySearchPhrases = []string{"who is", "what is", "tell me about"}

var quantifiableAttributes = []string{"mood", "feeling", "emotion", "happier", "sadder", "trust", "closer"}

// ClassifyIntent aplica reglas por prioridad: temporal primero, luego
// recall factual, luego estilo conversacional; el resto se fusiona.
func (r *KnowledgeRouter) ClassifyIntent(message string) QueryIntent {
	msg := strings.ToLower(message)

	if containsAny(msg, temporalPhrases) {
		return IntentTemporalAnalysis
	}
	if containsAny(msg, questionWords) && containsAny(msg, entityTypeKeywords) {
		return IntentFactualRecall
	}
	if containsAny(msg, conversationStylePhrases) {
		return IntentConversationStyle
	}
	if containsAny(msg, entitySearchPhrases) {
		return IntentEntitySearch
	}
	return IntentMultiModal
}

// Fuse ejecuta el algoritmo de fusion multi-modal: top 10 hechos por peso
// efectivo, top 10 memorias por calidad, dedup de memorias que solapan el
// entity_name de un hecho, y tendencia de 7 dias si el mensaje menciona un
// atributo cuantificable.
func (r *KnowledgeRouter) Fuse(ctx context.Context, turn domain.Turn, intent QueryIntent, memories []domain.RetrievedMemory) FusedKnowledge {
	fused := FusedKnowledge{Intent: intent}

	if intent == IntentEntitySearch {
		fused.Facts = r.entityLookup(ctx, turn)
	} else {
		facts, err := r.facts.ListByEffectiveWeight(ctx, turn.UserID, turn.CharacterID, repository.FactFilter{}, 10)
		if err != nil {
			r.logger.Warn("fusion fact query failed", zap.Error(err))
		} else {
			fused.Facts = facts
		}
	}

	for _, f := range fused.Facts {
		fused.Items = append(fused.Items, KnowledgeItem{
			Source:  SourceStructured,
			Content: fmt.Sprintf("%s (%s, confidence %.2f)", f.EntityName, f.RelationshipType, f.Confidence),
		})
	}

	kept := 0
	for _, m := range memories {
		if kept >= 10 {
			break
		}
		if overlapsFactEntity(m.Content, fused.Facts) {
			continue
		}
		fused.Memories = append(fused.Memories, m)
		fused.Items = append(fused.Items, KnowledgeItem{Source: SourceVector, Content: m.Content})
		kept++
	}

	if containsAny(strings.ToLower(turn.Content), quantifiableAttributes) {
		if trend := r.weeklyTrend(ctx, turn); trend != "" {
			fused.Items = append(fused.Items, KnowledgeItem{Source: SourceTimeSeries, Content: trend})
		}
	}

	return fused
}

// entityLookup despacha la intencion entity_search: busqueda full-text por
// nombre de entidad, expandida con los hechos a dos saltos del mejor match.
func (r *KnowledgeRouter) entityLookup(ctx context.Context, turn domain.Turn) []domain.UserFact {
	term := SemanticKeyFor(turn.Content)
	facts, err := r.facts.SearchEntities(ctx, turn.UserID, turn.CharacterID, term, 10)
	if err != nil {
		r.logger.Warn("entity search failed", zap.Error(err), zap.String("term", term))
		return nil
	}
	if len(facts) == 0 {
		return nil
	}

	related, err := r.facts.TwoHopRelated(ctx, turn.UserID, turn.CharacterID, facts[0].EntityName, 5)
	if err != nil {
		r.logger.Warn("two-hop expansion failed", zap.Error(err), zap.String("entity", facts[0].EntityName))
		return facts
	}

	seen := make(map[string]struct{}, len(facts))
	for _, f := range facts {
		seen[f.EntityName+"|"+f.RelationshipType] = struct{}{}
	}
	for _, f := range related {
		key := f.EntityName + "|" + f.RelationshipType
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		facts = append(facts, f)
	}
	if len(facts) > 10 {
		facts = facts[:10]
	}
	return facts
}

// weeklyTrend resume la tendencia de 7 dias de la emocion del usuario.
func (r *KnowledgeRouter) weeklyTrend(ctx context.Context, turn domain.Turn) string {
	since := time.Now().Add(-7 * 24 * time.Hour)
	points, err := r.metrics.Range(ctx, domain.MeasurementUserEmotion, turn.CharacterID, turn.UserID, since, 200)
	if err != nil || len(points) == 0 {
		return ""
	}
	var sum float64
	counts := map[string]int{}
	for _, p := range points {
		sum += p.Fields["intensity"]
		if e := p.Tags["emotion"]; e != "" {
			counts[e]++
		}
	}
	dominant := ""
	best := 0
	for e, c := range counts {
		if c > best {
			dominant, best = e, c
		}
	}
	return fmt.Sprintf("7-day trend: dominant emotion %s, avg intensity %.2f over %d points", dominant, sum/float64(len(points)), len(points))
}

// overlapsFactEntity deduplica memorias cuyo contenido contiene el
// entity_name de un hecho (match por substring exacto).
func overlapsFactEntity(content string, facts []domain.UserFact) bool {
	lower := strings.ToLower(content)
	for _, f := range facts {
		entity := strings.ToLower(strings.TrimSpace(f.EntityName))
		if entity != "" && strings.Contains(lower, entity) {
			return true
		}
	}
	return false
}

func containsAny(msg string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
