// Package agent holds the residents of the town and the per-tick
// cognition cycle that drives them.
package agent

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jiejieje/alien-town/internal/memory"
	"github.com/jiejieje/alien-town/internal/world"
)

// CreativeKind selects which generation capability a creative intent
// routes to.
type CreativeKind string

const (
	CreativeImage  CreativeKind = "image"
	CreativeMusic  CreativeKind = "music"
	CreativeWebSim CreativeKind = "websim"
)

// CreativeIntent is an agent's request to produce an artifact. At most
// one is emitted per agent per tick.
type CreativeIntent struct {
	AgentID string       `json:"agent_id"`
	Kind    CreativeKind `json:"kind"`
	Prompt  string       `json:"prompt"`
	Tick    int64        `json:"tick"`
}

// Agent is a resident: identity, transient cognitive state, and an
// exclusively-owned memory store. Nothing outside the agent's own
// cycle mutates this state, except the creative dispatcher appending
// artifact records to Memories.
type Agent struct {
	ID     string
	Name   string
	Traits []string

	mu            sync.RWMutex
	mood          string
	moodMagnitude float64
	position      world.Position
	plan          []string
	unreflected   []int64
	poignancy     float64
	lastCreative  map[CreativeKind]int64

	Memories *memory.Store
}

// New creates a resident with an empty memory store.
func New(name string, traits []string, pos world.Position) *Agent {
	return &Agent{
		ID:           uuid.New().String(),
		Name:         name,
		Traits:       traits,
		mood:         "calm",
		position:     pos,
		lastCreative: make(map[CreativeKind]int64),
		Memories:     memory.NewStore(),
	}
}

// Snapshot is a read-only view of an agent's transient state.
type Snapshot struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Traits        []string       `json:"traits"`
	Mood          string         `json:"mood"`
	MoodMagnitude float64        `json:"mood_magnitude"`
	Position      world.Position `json:"position"`
	Plan          []string       `json:"plan"`
	MemoryCount   int            `json:"memory_count"`
}

// Snapshot returns the agent's current state for inspection surfaces.
func (a *Agent) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	plan := make([]string, len(a.plan))
	copy(plan, a.plan)
	return Snapshot{
		ID:            a.ID,
		Name:          a.Name,
		Traits:        a.Traits,
		Mood:          a.mood,
		MoodMagnitude: a.moodMagnitude,
		Position:      a.position,
		Plan:          plan,
		MemoryCount:   a.Memories.Len(),
	}
}

// Position returns the agent's current grid position.
func (a *Agent) Position() world.Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.position
}

// SetPosition records the position applied by the stepper.
func (a *Agent) SetPosition(pos world.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.position = pos
}

// Plan returns the current plan steps.
func (a *Agent) Plan() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	plan := make([]string, len(a.plan))
	copy(plan, a.plan)
	return plan
}

// Mood returns the current mood descriptor and its magnitude.
func (a *Agent) Mood() (string, float64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mood, a.moodMagnitude
}

// State is the full serializable state of an agent, including the
// cognitive accumulators Snapshot omits. It is what checkpoints carry.
type State struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Traits        []string               `json:"traits"`
	Mood          string                 `json:"mood"`
	MoodMagnitude float64                `json:"mood_magnitude"`
	Position      world.Position         `json:"position"`
	Plan          []string               `json:"plan"`
	Unreflected   []int64                `json:"unreflected"`
	Poignancy     float64                `json:"poignancy"`
	LastCreative  map[CreativeKind]int64 `json:"last_creative"`
	Records       []*memory.Record       `json:"records"`
}

// State captures everything needed to rebuild the agent later.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := State{
		ID:            a.ID,
		Name:          a.Name,
		Traits:        append([]string{}, a.Traits...),
		Mood:          a.mood,
		MoodMagnitude: a.moodMagnitude,
		Position:      a.position,
		Plan:          append([]string{}, a.plan...),
		Unreflected:   append([]int64{}, a.unreflected...),
		Poignancy:     a.poignancy,
		LastCreative:  make(map[CreativeKind]int64, len(a.lastCreative)),
		Records:       a.Memories.All(),
	}
	for k, v := range a.lastCreative {
		st.LastCreative[k] = v
	}
	return st
}

// FromState rebuilds an agent from checkpointed state. The memory
// store is reconstructed record by record, so a tampered record
// sequence surfaces as an error here.
func FromState(st State) (*Agent, error) {
	mem, err := memory.Restore(st.Records)
	if err != nil {
		return nil, fmt.Errorf("restore memories for %s: %w", st.Name, err)
	}
	a := &Agent{
		ID:            st.ID,
		Name:          st.Name,
		Traits:        st.Traits,
		mood:          st.Mood,
		moodMagnitude: st.MoodMagnitude,
		position:      st.Position,
		plan:          st.Plan,
		unreflected:   st.Unreflected,
		poignancy:     st.Poignancy,
		lastCreative:  make(map[CreativeKind]int64, len(st.LastCreative)),
		Memories:      mem,
	}
	if a.mood == "" {
		a.mood = "calm"
	}
	for k, v := range st.LastCreative {
		a.lastCreative[k] = v
	}
	return a, nil
}
