package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/jiejieje/alien-town/internal/embedding"
	"github.com/jiejieje/alien-town/internal/memory"
	"github.com/jiejieje/alien-town/internal/world"
	"go.uber.org/zap"
)

// Reasoner is the language-reasoning capability. *provider.Router
// satisfies it.
type Reasoner interface {
	Reason(ctx context.Context, agentID, prompt string) (string, error)
}

// Indexer mirrors appended records into an external vector index.
// Optional; indexing failures never affect the cycle.
type Indexer interface {
	Index(ctx context.Context, agentID string, rec *memory.Record)
}

// CycleConfig holds the tunable constants of the cognition cycle.
type CycleConfig struct {
	RetrieveK           int     `json:"retrieve_k"`
	ReflectionThreshold float64 `json:"reflection_threshold"`
	MoodThreshold       float64 `json:"mood_threshold"`
	CreativeCooldown    int64   `json:"creative_cooldown_ticks"`
	DefaultImportance   float64 `json:"default_importance"`
	PlanImportance      float64 `json:"plan_importance"`
}

// DefaultCycleConfig returns the stock constants.
func DefaultCycleConfig() CycleConfig {
	return CycleConfig{
		RetrieveK:           8,
		ReflectionThreshold: 30,
		MoodThreshold:       0.8,
		CreativeCooldown:    20,
		DefaultImportance:   3,
		PlanImportance:      4,
	}
}

// Outcome is what one agent's tick produced, applied by the stepper
// after the join barrier.
type Outcome struct {
	GotoPlace string
	Intent    *CreativeIntent
	Reflected bool
}

// Cycle runs one agent's perceive-retrieve-reflect-plan-record loop.
type Cycle struct {
	agent     *Agent
	reasoner  Reasoner
	embedder  embedding.Provider
	retriever *memory.Retriever
	indexer   Indexer
	places    []string
	cfg       CycleConfig
	logger    *zap.Logger
}

// NewCycle wires a cycle for one agent.
func NewCycle(a *Agent, reasoner Reasoner, embedder embedding.Provider, retriever *memory.Retriever, cfg CycleConfig, logger *zap.Logger) *Cycle {
	if cfg.RetrieveK <= 0 {
		cfg = DefaultCycleConfig()
	}
	return &Cycle{
		agent:     a,
		reasoner:  reasoner,
		embedder:  embedder,
		retriever: retriever,
		cfg:       cfg,
		logger:    logger,
	}
}

// Agent returns the resident this cycle drives.
func (c *Cycle) Agent() *Agent { return c.agent }

// SetIndexer attaches an optional vector index mirror.
func (c *Cycle) SetIndexer(ix Indexer) { c.indexer = ix }

// SetPlaces tells the cycle which place names the plan may go to.
func (c *Cycle) SetPlaces(places []string) { c.places = places }

// Step runs one tick of cognition against the injected facts. On a
// perception or planning failure it returns an error before any record
// is appended: the agent keeps its prior plan and position and simply
// idles for the tick.
func (c *Cycle) Step(ctx context.Context, tick int64, facts world.Facts) (*Outcome, error) {
	a := c.agent

	// Perceive: describe the situation and embed it for retrieval.
	observations := describeFacts(a.Name, facts)
	situation := strings.Join(observations, ". ")
	queryVec, err := embedding.One(ctx, c.embedder, situation)
	if err != nil {
		return nil, fmt.Errorf("perceive %s: %w", a.Name, err)
	}

	// Retrieve memories relevant to the current situation.
	retrieved := c.retriever.Retrieve(a.Memories, queryVec, tick, c.cfg.RetrieveK)

	// Score the new observations.
	scoreReply, err := c.reasoner.Reason(ctx, a.ID, importancePrompt(observations))
	if err != nil {
		return nil, fmt.Errorf("perceive %s: %w", a.Name, err)
	}
	importances := parseImportances(scoreReply, len(observations), c.cfg.DefaultImportance)

	// Plan or act.
	planText, err := c.reasoner.Reason(ctx, a.ID, planPrompt(a, facts, retrieved, c.places))
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", a.Name, err)
	}
	reply := parsePlanReply(planText)

	// Embed everything that is about to be recorded in one batch.
	toEmbed := append(append([]string{}, observations...), strings.Join(reply.plan, "; "))
	vectors, err := c.embedder.Embed(ctx, toEmbed)
	if err != nil {
		return nil, fmt.Errorf("embed records for %s: %w", a.Name, err)
	}

	// Record: observations first, then a reflection if triggered, then
	// the plan. Only from here on does the tick leave a trace.
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, text := range observations {
		rec := &memory.Record{
			Kind:          memory.KindObservation,
			Content:       text,
			CreatedAtTick: tick,
			Importance:    importances[i],
			Embedding:     vectors[i],
		}
		if _, err := a.Memories.Append(rec); err != nil {
			return nil, fmt.Errorf("record observation for %s: %w", a.Name, err)
		}
		a.unreflected = append(a.unreflected, rec.ID)
		a.poignancy += rec.Importance
		c.index(ctx, rec)
	}

	out := &Outcome{GotoPlace: reply.gotoPlace}

	if a.poignancy >= c.cfg.ReflectionThreshold {
		out.Reflected = c.reflectLocked(ctx, tick)
	}

	planRefs := make([]int64, 0, len(retrieved))
	for _, r := range retrieved {
		planRefs = append(planRefs, r.ID)
	}
	planRec := &memory.Record{
		Kind:          memory.KindPlan,
		Content:       strings.Join(reply.plan, "; "),
		CreatedAtTick: tick,
		Importance:    c.cfg.PlanImportance,
		Embedding:     vectors[len(vectors)-1],
		References:    planRefs,
	}
	if _, err := a.Memories.Append(planRec); err != nil {
		return nil, fmt.Errorf("record plan for %s: %w", a.Name, err)
	}
	c.index(ctx, planRec)

	// Commit transient state.
	if len(reply.plan) > 0 {
		a.plan = reply.plan
	}
	if reply.mood != "" {
		a.mood = reply.mood
	}
	if reply.moodMagnitude >= 0 {
		a.moodMagnitude = reply.moodMagnitude
	}

	out.Intent = c.creativeIntentLocked(tick, reply)
	return out, nil
}

// reflectLocked synthesizes one reflection over the unreflected
// observations. A reasoner or embedder failure here skips the
// reflection rather than aborting the tick; the accumulator keeps its
// value so the next tick retries. Reflections are the only records
// that grow the reference DAG from observations.
func (c *Cycle) reflectLocked(ctx context.Context, tick int64) bool {
	a := c.agent

	evidence := make([]*memory.Record, 0, len(a.unreflected))
	var peak float64
	for _, id := range a.unreflected {
		if r, ok := a.Memories.Get(id); ok {
			evidence = append(evidence, r)
			if r.Importance > peak {
				peak = r.Importance
			}
		}
	}
	if len(evidence) == 0 {
		a.unreflected = nil
		a.poignancy = 0
		return false
	}

	insight, err := c.reasoner.Reason(ctx, a.ID, reflectionPrompt(a.Name, evidence))
	if err != nil {
		c.logger.Warn("reflection skipped",
			zap.String("agent", a.Name),
			zap.Error(err))
		return false
	}
	vec, err := embedding.One(ctx, c.embedder, insight)
	if err != nil {
		c.logger.Warn("reflection skipped",
			zap.String("agent", a.Name),
			zap.Error(err))
		return false
	}

	rec := &memory.Record{
		Kind:          memory.KindReflection,
		Content:       strings.TrimSpace(insight),
		CreatedAtTick: tick,
		Importance:    peak + 1,
		Embedding:     vec,
		References:    append([]int64{}, a.unreflected...),
	}
	if _, err := a.Memories.Append(rec); err != nil {
		c.logger.Warn("reflection skipped",
			zap.String("agent", a.Name),
			zap.Error(err))
		return false
	}
	c.index(ctx, rec)

	c.logger.Info("reflection recorded",
		zap.String("agent", a.Name),
		zap.Int64("record", rec.ID),
		zap.Int("evidence", len(rec.References)))

	a.unreflected = nil
	a.poignancy = 0
	return true
}

// creativeIntentLocked applies the creativity trigger: an explicit
// CREATE directive, or an elevated mood. Each kind has a cooldown in
// ticks so one inspired stretch does not flood the generators.
func (c *Cycle) creativeIntentLocked(tick int64, reply planReply) *CreativeIntent {
	a := c.agent

	kind := reply.createKind
	prompt := reply.createPrompt
	if kind == "" && a.moodMagnitude >= c.cfg.MoodThreshold {
		kind = CreativeImage
		prompt = fmt.Sprintf("%s, feeling %s: %s", a.Name, a.mood, strings.Join(a.plan, "; "))
	}
	if kind == "" {
		return nil
	}
	if last, ok := a.lastCreative[kind]; ok && tick-last < c.cfg.CreativeCooldown {
		c.logger.Debug("creative intent suppressed by cooldown",
			zap.String("agent", a.Name),
			zap.String("kind", string(kind)))
		return nil
	}
	if prompt == "" {
		prompt = strings.Join(a.plan, "; ")
	}

	a.lastCreative[kind] = tick
	return &CreativeIntent{
		AgentID: a.ID,
		Kind:    kind,
		Prompt:  prompt,
		Tick:    tick,
	}
}

func (c *Cycle) index(ctx context.Context, rec *memory.Record) {
	if c.indexer != nil {
		c.indexer.Index(ctx, c.agent.ID, rec)
	}
}
