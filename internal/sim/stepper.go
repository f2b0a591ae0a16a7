// Package sim advances the town in lockstep ticks: every resident
// runs its cognition cycle against the same frozen view of the world,
// then all movements and intents are applied together.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jiejieje/alien-town/internal/agent"
	"github.com/jiejieje/alien-town/internal/embedding"
	"github.com/jiejieje/alien-town/internal/memory"
	"github.com/jiejieje/alien-town/internal/world"
	"go.uber.org/zap"
)

// ErrUnknownAgent is returned for operations on an agent id the
// stepper does not track.
var ErrUnknownAgent = errors.New("unknown agent")

// IntentSink receives the creative intents a tick produced.
// *dispatch.Dispatcher implements it.
type IntentSink interface {
	Enqueue(intent *agent.CreativeIntent) error
}

// EventSink publishes tick lifecycle events. *bus.Bus implements it.
type EventSink interface {
	PublishTick(ctx context.Context, tick int64, agents, reflections, intents int)
}

// RelationGraph maintains social ties between residents.
// *world.RelationGraph implements it.
type RelationGraph interface {
	RecordMeeting(ctx context.Context, fromID, toID string, tick int64) error
	DecaySweep(ctx context.Context) (int, error)
}

// Config holds the stepper's tunables.
type Config struct {
	PoolSize           int                    `json:"pool_size"`
	CheckpointEvery    int64                  `json:"checkpoint_every"`
	RelationDecayEvery int64                  `json:"relation_decay_every"`
	Retrieval          memory.RetrievalConfig `json:"retrieval"`
}

// Stepper owns the tick loop. Agents join and leave between ticks;
// within a tick the roster is frozen.
type Stepper struct {
	town      *world.Town
	cfg       Config
	reasoner  agent.Reasoner
	embedder  embedding.Provider
	retriever *memory.Retriever
	cycleCfg  agent.CycleConfig

	indexer   agent.Indexer
	dispatch  IntentSink
	events    EventSink
	relations RelationGraph
	persister Persister

	mu     sync.RWMutex
	cycles map[string]*agent.Cycle
	order  []string
	tick   int64

	pool   chan struct{}
	logger *zap.Logger
}

// New creates a stepper over an empty roster.
func New(town *world.Town, reasoner agent.Reasoner, embedder embedding.Provider, cfg Config, cycleCfg agent.CycleConfig, logger *zap.Logger) *Stepper {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}
	if cfg.RelationDecayEvery <= 0 {
		cfg.RelationDecayEvery = 50
	}
	if cfg.Retrieval == (memory.RetrievalConfig{}) {
		cfg.Retrieval = memory.DefaultRetrievalConfig()
	}
	return &Stepper{
		town:      town,
		cfg:       cfg,
		reasoner:  reasoner,
		embedder:  embedder,
		retriever: memory.NewRetriever(cfg.Retrieval),
		cycleCfg:  cycleCfg,
		cycles:    make(map[string]*agent.Cycle),
		pool:      make(chan struct{}, cfg.PoolSize),
		logger:    logger,
	}
}

// SetIndexer attaches an optional vector index mirror to every cycle.
func (s *Stepper) SetIndexer(ix agent.Indexer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexer = ix
	for _, c := range s.cycles {
		c.SetIndexer(ix)
	}
}

// SetIntentSink routes creative intents to a dispatcher.
func (s *Stepper) SetIntentSink(sink IntentSink) { s.dispatch = sink }

// SetEventSink routes tick events to a bus.
func (s *Stepper) SetEventSink(events EventSink) { s.events = events }

// SetRelationGraph records meetings between co-located residents and
// schedules periodic tie decay.
func (s *Stepper) SetRelationGraph(g RelationGraph) { s.relations = g }

// SetPersister enables periodic checkpointing.
func (s *Stepper) SetPersister(p Persister) { s.persister = p }

// AddAgent places a resident into the town and starts ticking it.
func (s *Stepper) AddAgent(a *agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cycles[a.ID]; ok {
		return fmt.Errorf("agent %s already present", a.ID)
	}
	s.town.Enter(a.ID, a.Name, a.Position())
	c := agent.NewCycle(a, s.reasoner, s.embedder, s.retriever, s.cycleCfg, s.logger)
	c.SetPlaces(s.placeNames())
	if s.indexer != nil {
		c.SetIndexer(s.indexer)
	}
	s.cycles[a.ID] = c
	s.order = append(s.order, a.ID)
	s.logger.Info("agent joined",
		zap.String("agent", a.Name),
		zap.Int64("tick", s.tick))
	return nil
}

// RemoveAgent withdraws a resident. Its memories go with it.
func (s *Stepper) RemoveAgent(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[agentID]
	if !ok {
		return ErrUnknownAgent
	}
	delete(s.cycles, agentID)
	for i, id := range s.order {
		if id == agentID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.town.Leave(agentID)
	s.logger.Info("agent left",
		zap.String("agent", c.Agent().Name),
		zap.Int64("tick", s.tick))
	return nil
}

// Agent returns the tracked resident with the given id.
func (s *Stepper) Agent(agentID string) (*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cycles[agentID]
	if !ok {
		return nil, ErrUnknownAgent
	}
	return c.Agent(), nil
}

// Agents returns the roster in join order.
func (s *Stepper) Agents() []*agent.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*agent.Agent, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.cycles[id].Agent())
	}
	return out
}

func (s *Stepper) placeNames() []string {
	places := s.town.Places()
	names := make([]string, len(places))
	for i, p := range places {
		names[i] = p.Name
	}
	return names
}

// Tick returns the number of completed ticks.
func (s *Stepper) Tick() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tick
}

type cycleResult struct {
	agentID string
	outcome *agent.Outcome
	err     error
}

// Step advances the simulation by exactly one tick. An agent whose
// cycle fails idles for the tick; everyone else proceeds.
func (s *Stepper) Step(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tick := s.tick + 1
	order := append([]string{}, s.order...)

	// Freeze the world: every agent perceives the same pre-tick state.
	facts := make(map[string]world.Facts, len(order))
	for _, id := range order {
		f, err := s.town.Observe(id)
		if err != nil {
			return fmt.Errorf("observe %s: %w", id, err)
		}
		facts[id] = f
	}

	// Run all cycles in parallel over a bounded pool, then join.
	results := make(chan cycleResult, len(order))
	var wg sync.WaitGroup
	for _, id := range order {
		wg.Add(1)
		go func(id string, c *agent.Cycle) {
			defer wg.Done()
			s.pool <- struct{}{}
			defer func() { <-s.pool }()

			out, err := c.Step(ctx, tick, facts[id])
			results <- cycleResult{agentID: id, outcome: out, err: err}
		}(id, s.cycles[id])
	}
	wg.Wait()
	close(results)

	outcomes := make(map[string]*agent.Outcome, len(order))
	for r := range results {
		if r.err != nil {
			s.logger.Warn("agent idled this tick",
				zap.String("agent", s.cycles[r.agentID].Agent().Name),
				zap.Int64("tick", tick),
				zap.Error(r.err))
			continue
		}
		outcomes[r.agentID] = r.outcome
	}

	// Apply movement and intents in join order so outcomes are
	// deterministic regardless of goroutine scheduling.
	reflections, intents := 0, 0
	for _, id := range order {
		out, ok := outcomes[id]
		if !ok {
			continue
		}
		a := s.cycles[id].Agent()
		if out.Reflected {
			reflections++
		}
		if out.GotoPlace != "" {
			if target, ok := s.town.PlacePosition(out.GotoPlace); ok {
				if err := s.town.Move(id, target); err == nil {
					a.SetPosition(target)
				}
			}
		}
		if out.Intent != nil && s.dispatch != nil {
			if err := s.dispatch.Enqueue(out.Intent); err != nil {
				s.logger.Warn("intent dropped",
					zap.String("agent", a.Name),
					zap.Error(err))
			} else {
				intents++
			}
		}
	}

	s.recordMeetings(ctx, tick, order, facts)
	if s.relations != nil && tick%s.cfg.RelationDecayEvery == 0 {
		if _, err := s.relations.DecaySweep(ctx); err != nil {
			s.logger.Warn("relation decay sweep failed",
				zap.Int64("tick", tick),
				zap.Error(err))
		}
	}

	s.tick = tick
	if s.events != nil {
		s.events.PublishTick(ctx, tick, len(order), reflections, intents)
	}
	if s.persister != nil && s.cfg.CheckpointEvery > 0 && tick%s.cfg.CheckpointEvery == 0 {
		cp := s.checkpointLocked()
		if err := s.persister.Save(ctx, cp); err != nil {
			s.logger.Warn("checkpoint save failed",
				zap.Int64("tick", tick),
				zap.Error(err))
		}
	}
	return nil
}

// recordMeetings strengthens social ties for every pair a tick put in
// sight of each other. Each unordered pair counts once per tick.
func (s *Stepper) recordMeetings(ctx context.Context, tick int64, order []string, facts map[string]world.Facts) {
	if s.relations == nil {
		return
	}
	met := make(map[string]bool)
	for _, id := range order {
		for _, other := range facts[id].NearbyAgents {
			key := id + "|" + other.ID
			if other.ID < id {
				key = other.ID + "|" + id
			}
			if met[key] {
				continue
			}
			met[key] = true
			if err := s.relations.RecordMeeting(ctx, id, other.ID, tick); err != nil {
				s.logger.Warn("meeting not recorded", zap.Error(err))
			}
		}
	}
}

// Run ticks the simulation at the given interval until the context is
// cancelled.
func (s *Stepper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Step(ctx); err != nil {
				s.logger.Error("tick failed", zap.Error(err))
			}
		}
	}
}

// Checkpoint captures the current simulation state.
func (s *Stepper) Checkpoint() *Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpointLocked()
}

func (s *Stepper) checkpointLocked() *Checkpoint {
	cp := &Checkpoint{
		Version: CheckpointVersion,
		Tick:    s.tick,
		SavedAt: time.Now().UTC(),
		Agents:  make([]agent.State, 0, len(s.order)),
	}
	for _, id := range s.order {
		cp.Agents = append(cp.Agents, s.cycles[id].Agent().State())
	}
	return cp
}

// Resume replaces the entire roster with the checkpointed one. The
// checkpoint is validated first; on any error the current state is
// left untouched.
func (s *Stepper) Resume(cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	restored := make([]*agent.Agent, 0, len(cp.Agents))
	for _, st := range cp.Agents {
		a, err := agent.FromState(st)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
		}
		restored = append(restored, a)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		s.town.Leave(id)
	}
	s.cycles = make(map[string]*agent.Cycle, len(restored))
	s.order = s.order[:0]
	for _, a := range restored {
		s.town.Enter(a.ID, a.Name, a.Position())
		c := agent.NewCycle(a, s.reasoner, s.embedder, s.retriever, s.cycleCfg, s.logger)
		c.SetPlaces(s.placeNames())
		if s.indexer != nil {
			c.SetIndexer(s.indexer)
		}
		s.cycles[a.ID] = c
		s.order = append(s.order, a.ID)
	}
	s.tick = cp.Tick
	s.logger.Info("resumed from checkpoint",
		zap.Int64("tick", cp.Tick),
		zap.Int("agents", len(restored)))
	return nil
}
