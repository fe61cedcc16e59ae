package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"persona-runtime/internal/domain"
	"persona-runtime/internal/emotion"
	"persona-runtime/internal/llm"
	"persona-runtime/internal/repository"
)

const (
	llmRetryBackoff       = time.Second
	postResponseBudget    = 10 * time.Second
	episodicIntensityMin  = 0.8
	recentHistoryMessages = 15
)

const coreSystemText = "You are in an ongoing one-on-one conversation. Respond as your character, " +
	"in plain conversational prose, in the language the user is using. " +
	"Keep responses focused and natural; do not produce lists unless asked."

const groupChannelText = "This message arrives in a group channel. Other people can read your reply; " +
	"keep personal details the user shared in private out of it."

// Pipeline orquesta las fases 0-12 de un turno. Es el unico componente que
// conoce el orden de las fases; los servicios que invoca son independientes
// entre si.
type Pipeline struct {
	security      *SecurityValidator
	analyzer      emotion.Analyzer
	facts         repository.FactRepository
	characters    repository.CharacterRepository
	relationships *RelationshipEngine
	router        *KnowledgeRouter
	retriever     *MemoryRetriever
	trajectory    *TrajectoryService
	integrator    *CharacterIntegrator
	assembler     *PromptAssembler
	responses     *ResponseValidator
	coordinator   *PersistenceCoordinator
	client        llm.Client
	chatModel     string
	enrichers     []Enricher
	emojiEnabled  bool
	deadline      time.Duration
	logger        *zap.Logger

	// Serializa la fase de persistencia por par (usuario, personaje):
	// turnos de pares distintos corren en paralelo, los del mismo par
	// escriben en orden.
	pairMu   sync.Mutex
	pairLock map[string]*sync.Mutex
}

// PipelineDeps agrupa las dependencias del orquestador.
type PipelineDeps struct {
	Security      *SecurityValidator
	Analyzer      emotion.Analyzer
	Facts         repository.FactRepository
	Characters    repository.CharacterRepository
	Relationships *RelationshipEngine
	Router        *KnowledgeRouter
	Retriever     *MemoryRetriever
	Trajectory    *TrajectoryService
	Integrator    *CharacterIntegrator
	Assembler     *PromptAssembler
	Responses     *ResponseValidator
	Coordinator   *PersistenceCoordinator
	Client        llm.Client
	ChatModel     string
	Enrichers     []Enricher
	EmojiEnabled  bool
	TurnDeadline  time.Duration
	Logger        *zap.Logger
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.TurnDeadline <= 0 {
		deps.TurnDeadline = 30 * time.Second
	}
	return &Pipeline{
		security:      deps.Security,
		analyzer:      deps.Analyzer,
		facts:         deps.Facts,
		characters:    deps.Characters,
		relationships: deps.Relationships,
		router:        deps.Router,
		retriever:     deps.Retriever,
		trajectory:    deps.Trajectory,
		integrator:    deps.Integrator,
		assembler:     deps.Assembler,
		responses:     deps.Responses,
		coordinator:   deps.Coordinator,
		client:        deps.Client,
		chatModel:     deps.ChatModel,
		enrichers:     deps.Enrichers,
		emojiEnabled:  deps.EmojiEnabled,
		deadline:      deps.TurnDeadline,
		logger:        deps.Logger,
		pairLock:      make(map[string]*sync.Mutex),
	}
}

// Process ejecuta el turno completo y devuelve siempre un resultado
// entregable; los fallos internos degradan a plantillas seguras.
func (p *Pipeline) Process(ctx context.Context, turn domain.Turn) domain.ProcessingResult {
	started := time.Now()
	if turn.ReceivedAt.IsZero() {
		turn.ReceivedAt = started.UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	// Fase 0: bundle efimero del turno.
	bundle := &domain.IntelligenceBundle{}

	// Fase 1: validacion de entrada. Un turno rechazado responde con la
	// plantilla y no toca ningun store.
	bundle.SecurityVerdict = p.security.Validate(turn)
	if !bundle.SecurityVerdict.Allowed {
		p.logger.Info("turn rejected by security validation",
			zap.String("user_id", turn.UserID),
			zap.String("reason", bundle.SecurityVerdict.Reason))
		return result(CannedSecurityRejection, true, started, map[string]interface{}{
			"security_rejected": true,
		})
	}

	// Fase 2: recoleccion paralela de inteligencia. Cada slot falla solo.
	def := p.gatherIntelligence(ctx, turn, bundle)

	// Fase 3: clasificacion de intencion, recuperacion y fusion.
	intent := p.router.ClassifyIntent(turn.Content)
	retrieval := p.retriever.Retrieve(ctx, turn, intent, bundle.UserEmotion)
	bundle.Memories = retrieval.Memories
	bundle.MemoryDegraded = retrieval.Degraded
	bundle.NoPriorHistory = retrieval.NoPriorHistory
	fused := p.router.Fuse(ctx, turn, intent, retrieval.Memories)

	for _, f := range fused.Facts {
		bundle.DetectedEntities = append(bundle.DetectedEntities, f.EntityName)
	}
	if key := SemanticKeyFor(turn.Content); key != "general" {
		bundle.DetectedTopics = append(bundle.DetectedTopics, key)
	}

	history := p.recentHistory(ctx, turn, bundle)

	// Fase 4: confianza derivada de lo recuperado.
	bundle.Confidence = p.retriever.DeriveConfidence(retrieval.Memories, bundle.UserEmotion)

	// Fases 5-6.7: construccion de componentes.
	components := p.buildComponents(ctx, turn, def, bundle, fused)

	if ctx.Err() != nil {
		p.logger.Warn("turn deadline hit before generation", zap.String("user_id", turn.UserID))
		return result(CannedTimeoutResponse, false, started, map[string]interface{}{"timeout": true})
	}

	// Fase 7: generacion con un reintento. Un fallo definitivo degrada a la
	// disculpa enlatada pero no aborta el turno: las fases 9-11 corren igual
	// para que el intercambio quede recordado.
	messages := p.assembler.Assemble(components, history, turn.Content)
	responseText, genErr := p.generate(ctx, messages)
	degraded := false
	if genErr != nil {
		if ctx.Err() != nil {
			return result(CannedTimeoutResponse, false, started, map[string]interface{}{"timeout": true})
		}
		p.logger.Error("generation failed after retry", zap.Error(genErr))
		degraded = true
		responseText = CannedApologyResponse
	}

	// Fase 7.5: emocion de la respuesta (segunda y ultima invocacion del
	// clasificador en el turno).
	if botEmotion, err := p.analyzer.Analyze(ctx, responseText); err != nil {
		bundle.MarkSlotFailure("bot_emotion", err.Error())
	} else {
		bundle.BotEmotion = &botEmotion
	}

	if !degraded {
		// Fase 7.6: enriquecimiento de respuesta (transformaciones puras). El
		// decorador de emojis se arma por turno: depende de la politica del
		// personaje y de la emocion ya clasificada.
		responseEnrichers := p.enrichers
		if p.emojiEnabled && def.EmojiPolicy.Enabled {
			responseEnrichers = append(append([]Enricher{}, p.enrichers...),
				NewEmojiDecorator(def.EmojiPolicy, func() domain.EmotionRecord { return bundle.UserEmotion }))
		}
		responseText = runEnricherList(ctx, responseEnrichers, StageResponse, turn, responseText, bundle)

		// Fase 8: validacion de salida, con una regeneracion como maximo. Dos
		// veredictos de regeneracion degradan a la disculpa sin abortar.
		verdict := p.responses.Validate(responseText)
		if verdict.Regenerate {
			p.logger.Warn("response failed validation, regenerating", zap.String("reason", verdict.Reason))
			recovered := false
			if regenerated, err := p.generate(ctx, messages); err == nil {
				if v := p.responses.Validate(regenerated); !v.Regenerate {
					responseText = v.Sanitized
					recovered = true
				}
			}
			if !recovered {
				degraded = true
				responseText = CannedApologyResponse
			}
		} else {
			responseText = verdict.Sanitized
		}
	}

	// Fases 9-11: persistencia y aprendizaje. Si el deadline ya vencio, la
	// respuesta se entrega igual y las escrituras corren con presupuesto
	// propio en segundo plano.
	if ctx.Err() != nil {
		go p.persistAndLearn(context.WithoutCancel(ctx), turn, bundle, responseText)
	} else {
		p.persistAndLearn(ctx, turn, bundle, responseText)
	}

	// Fase 12: resultado; el bundle se descarta.
	meta := map[string]interface{}{
		"intent":           string(fused.Intent),
		"memories_used":    len(retrieval.Memories),
		"no_prior_history": bundle.NoPriorHistory,
	}
	if degraded {
		meta["generation_failed"] = true
	}
	if len(bundle.SlotFailures) > 0 {
		meta["slot_failures"] = bundle.SlotFailures
	}
	return result(responseText, !degraded, started, meta)
}

// gatherIntelligence corre la fase 2: emocion, hechos, definicion de
// personaje y relacion, en paralelo con aislamiento por slot.
func (p *Pipeline) gatherIntelligence(ctx context.Context, turn domain.Turn, bundle *domain.IntelligenceBundle) domain.CharacterDefinition {
	def := domain.MinimalCharacter(turn.CharacterID)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		record, err := p.analyzer.Analyze(gctx, turn.Content)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			bundle.UserEmotion = domain.NeutralEmotion()
			bundle.MarkSlotFailure("user_emotion", err.Error())
			return nil
		}
		bundle.UserEmotion = record
		return nil
	})
	g.Go(func() error {
		facts, err := p.facts.ListByEffectiveWeight(gctx, turn.UserID, turn.CharacterID, repository.FactFilter{
			MinConfidence:     0.3,
			MinTemporalWeight: 0.2,
		}, 10)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			bundle.MarkSlotFailure("user_facts", err.Error())
			return nil
		}
		bundle.UserFacts = facts
		return nil
	})
	g.Go(func() error {
		loaded, err := p.characters.GetByID(gctx, turn.CharacterID)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			bundle.MarkSlotFailure("character_definition", err.Error())
			return nil
		}
		def = loaded
		return nil
	})
	g.Go(func() error {
		score, err := p.relationships.GetScores(gctx, turn.UserID, turn.CharacterID)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			bundle.MarkSlotFailure("relationship", err.Error())
		}
		bundle.RelationshipState = score
		return nil
	})
	_ = g.Wait()

	return def
}

// buildComponents arma la lista completa de componentes de prompt de las
// fases 5, 6, 6.5 y 6.7.
func (p *Pipeline) buildComponents(ctx context.Context, turn domain.Turn, def domain.CharacterDefinition, bundle *domain.IntelligenceBundle, fused FusedKnowledge) []PromptComponent {
	components := []PromptComponent{{
		Kind:     KindCoreSystem,
		Priority: 0,
		Required: true,
		Content:  coreSystemText,
	}}

	components = append(components, p.integrator.Integrate(def, bundle, turn.Content)...)

	if facts := renderFacts(fused.Facts); facts != "" {
		components = append(components, PromptComponent{
			Kind:     KindUserFacts,
			Priority: 4,
			Content:  facts,
		})
	}

	if narrative := renderMemoryNarrative(fused); narrative != "" {
		components = append(components, PromptComponent{
			Kind:     KindMemoryNarrative,
			Priority: 4,
			Required: true,
			Content:  narrative,
		})
	}

	components = append(components, PromptComponent{
		Kind:     KindRelationshipContext,
		Priority: 6,
		Content: fmt.Sprintf("Relationship with this user: %s (trust %.2f, affection %.2f, attunement %.2f, %d interactions).",
			bundle.RelationshipState.DepthLabel(),
			bundle.RelationshipState.Trust,
			bundle.RelationshipState.Affection,
			bundle.RelationshipState.Attunement,
			bundle.RelationshipState.InteractionCount),
	})

	// Fase 6.5: trayectoria emocional del bot.
	trajectory, err := p.trajectory.Analyze(ctx, turn.CharacterID, turn.UserID)
	if err != nil {
		bundle.MarkSlotFailure("trajectory", err.Error())
	} else {
		bundle.BotTrajectory = trajectory
		if state := p.integrator.EmotionalStateComponent(trajectory); state.Content != "" {
			components = append(components, state)
		}
	}

	components = append(components, PromptComponent{
		Kind:     KindConfidenceContext,
		Priority: 8,
		Content: fmt.Sprintf("Confidence in your context: overall %.2f, memories %.2f, emotional read %.2f.",
			bundle.Confidence.Overall, bundle.Confidence.Context, bundle.Confidence.Emotional),
		Condition: func() bool { return bundle.Confidence.Overall > 0 },
	})

	if turn.ChannelType == domain.ChannelGroup {
		components = append(components, PromptComponent{
			Kind:     KindAttachmentPolicy,
			Priority: 2,
			Required: true,
			Content:  groupChannelText,
		})
	}

	// Fase 6: adjuntos descritos por enrichers, inyectados como pseudo-memoria.
	if len(turn.Attachments) > 0 {
		if described := runEnricherList(ctx, p.enrichers, StageAttachment, turn, "", bundle); described != "" {
			components = append(components, PromptComponent{
				Kind:     KindConversationSummary,
				Priority: 4,
				Content:  "The user attached media. Description: " + described,
			})
		}
	}

	return components
}

// generate llama al LLM con un unico reintento ante errores reintentables.
func (p *Pipeline) generate(ctx context.Context, messages []llm.Message) (string, error) {
	opts := llm.Options{Model: p.chatModel, Temperature: 0.8, MaxTokens: 1024}
	completion, err := p.client.Complete(ctx, messages, opts)
	if err == nil {
		return completion.Text, nil
	}
	if !llm.IsRetryable(err) {
		return "", err
	}

	select {
	case <-time.After(llmRetryBackoff):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	completion, err = p.client.Complete(ctx, messages, opts)
	if err != nil {
		return "", err
	}
	return completion.Text, nil
}

// runEnricherList aplica en orden los enrichers de la etapa dada. Un
// enricher que falla se salta; la cadena sigue con el texto previo.
func runEnricherList(ctx context.Context, enrichers []Enricher, stage EnricherStage, turn domain.Turn, text string, bundle *domain.IntelligenceBundle) string {
	for _, e := range enrichers {
		if e.Stage() != stage {
			continue
		}
		enriched, err := e.Enrich(ctx, turn, text)
		if err != nil {
			bundle.MarkSlotFailure("enricher:"+e.Name(), err.Error())
			continue
		}
		text = enriched
	}
	return text
}

// persistAndLearn ejecuta las fases 9, 10 y 11 bajo el lock del par.
func (p *Pipeline) persistAndLearn(ctx context.Context, turn domain.Turn, bundle *domain.IntelligenceBundle, responseText string) {
	ctx, cancel := context.WithTimeout(ctx, postResponseBudget)
	defer cancel()

	lock := p.lockFor(turn.UserID, turn.CharacterID)
	lock.Lock()
	defer lock.Unlock()

	// Fase 9: commit coordinado.
	if _, err := p.coordinator.Commit(ctx, turn, bundle, responseText); err != nil {
		p.logger.Error("turn persistence failed", zap.Error(err),
			zap.String("user_id", turn.UserID), zap.String("character_id", turn.CharacterID))
	}

	// Fase 10: momento episodico si la carga emocional lo amerita.
	if bundle.UserEmotion.EmotionalIntensity >= episodicIntensityMin && !bundle.UserEmotion.IsWeakSignal() {
		summary := fmt.Sprintf("The user felt strong %s while saying: %s",
			bundle.UserEmotion.PrimaryEmotion, strings.TrimSpace(turn.Content))
		if err := p.coordinator.CommitEpisodic(ctx, turn, bundle, summary); err != nil {
			p.logger.Warn("episodic write failed", zap.Error(err))
		}
	}

	// Fase 11: actualizacion de la relacion.
	if _, err := p.relationships.Update(ctx, turn, bundle, responseText); err != nil {
		p.logger.Warn("relationship update failed", zap.Error(err))
	}
}

func (p *Pipeline) recentHistory(ctx context.Context, turn domain.Turn, bundle *domain.IntelligenceBundle) []HistoryEntry {
	mems, err := p.retriever.RecentHistory(ctx, turn, recentHistoryMessages)
	if err != nil {
		bundle.MarkSlotFailure("recent_history", err.Error())
		return nil
	}
	history := make([]HistoryEntry, 0, len(mems))
	for _, m := range mems {
		history = append(history, HistoryEntry{UserContent: m.Content, BotContent: m.BotResponse})
	}
	return history
}

func (p *Pipeline) lockFor(userID, characterID string) *sync.Mutex {
	key := userID + "|" + characterID
	p.pairMu.Lock()
	defer p.pairMu.Unlock()
	lock, ok := p.pairLock[key]
	if !ok {
		lock = &sync.Mutex{}
		p.pairLock[key] = lock
	}
	return lock
}

func renderFacts(facts []domain.UserFact) string {
	if len(facts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Known facts about the user:")
	for _, f := range facts {
		sb.WriteString(fmt.Sprintf("\n- %s %s (confidence %.2f)", f.RelationshipType, f.EntityName, f.EffectiveWeight()))
	}
	return sb.String()
}

func renderMemoryNarrative(fused FusedKnowledge) string {
	var sb strings.Builder
	for _, item := range fused.Items {
		if item.Source == SourceStructured {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(strings.TrimSpace(item.Content))
	}
	return sb.String()
}

func result(text string, success bool, started time.Time, meta map[string]interface{}) domain.ProcessingResult {
	return domain.ProcessingResult{
		ResponseText:     text,
		Success:          success,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
		Metadata:         meta,
	}
}
