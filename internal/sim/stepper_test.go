package sim

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jiejieje/alien-town/internal/agent"
	"github.com/jiejieje/alien-town/internal/memory"
	"github.com/jiejieje/alien-town/internal/world"
	"go.uber.org/zap"
)

type scriptedReasoner struct {
	planByAgent map[string]string
	failAgents  map[string]bool
}

func (r *scriptedReasoner) Reason(_ context.Context, agentID, prompt string) (string, error) {
	if r.failAgents[agentID] {
		return "", errors.New("provider down")
	}
	if strings.Contains(prompt, "Rate how emotionally significant") {
		return "3\n3\n3\n3", nil
	}
	if strings.Contains(prompt, "one high-level insight") {
		return "Life in the town repeats itself.", nil
	}
	if reply, ok := r.planByAgent[agentID]; ok {
		return reply, nil
	}
	return "PLAN: wander the plaza\nGOTO: stay\nMOOD: calm 0.2\nCREATE: none", nil
}

type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 4)
		for _, r := range t {
			v[int(r)%4]++
		}
		out[i] = v
	}
	return out, nil
}

func (hashEmbedder) Dimension() int { return 4 }

type captureSink struct {
	intents []*agent.CreativeIntent
}

func (c *captureSink) Enqueue(in *agent.CreativeIntent) error {
	c.intents = append(c.intents, in)
	return nil
}

func testTown(t *testing.T) *world.Town {
	t.Helper()
	return world.NewTown(world.TownConfig{
		Width:            32,
		Height:           32,
		PerceptionRadius: 4,
		Places: []world.Place{
			{Name: "the plaza", Pos: world.Position{X: 4, Y: 4}},
			{Name: "the observatory", Pos: world.Position{X: 20, Y: 20}},
		},
	}, zap.NewNop())
}

func newTestStepper(t *testing.T, r agent.Reasoner) *Stepper {
	t.Helper()
	return New(testTown(t), r, hashEmbedder{}, Config{PoolSize: 4}, agent.DefaultCycleConfig(), zap.NewNop())
}

func TestStepAdvancesEveryAgent(t *testing.T) {
	s := newTestStepper(t, &scriptedReasoner{})
	a1 := agent.New("Zix", []string{"curious"}, world.Position{X: 4, Y: 4})
	a2 := agent.New("Vreel", []string{"wry"}, world.Position{X: 5, Y: 5})
	if err := s.AddAgent(a1); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}
	if err := s.AddAgent(a2); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}

	if err := s.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := s.Tick(); got != 1 {
		t.Errorf("Tick = %d, want 1", got)
	}
	if a1.Memories.Len() == 0 {
		t.Error("Zix recorded nothing")
	}
	if a2.Memories.Len() == 0 {
		t.Error("Vreel recorded nothing")
	}
}

func TestStepMovesAgentToPlace(t *testing.T) {
	r := &scriptedReasoner{planByAgent: map[string]string{}}
	s := newTestStepper(t, r)
	a := agent.New("Zix", nil, world.Position{X: 4, Y: 4})
	r.planByAgent[a.ID] = "PLAN: stargaze\nGOTO: the observatory\nMOOD: calm 0.3\nCREATE: none"
	if err := s.AddAgent(a); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}

	if err := s.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	want := world.Position{X: 20, Y: 20}
	if got := a.Position(); got != want {
		t.Errorf("position = %+v, want %+v", got, want)
	}
}

func TestFailingAgentIdlesOthersProceed(t *testing.T) {
	r := &scriptedReasoner{failAgents: map[string]bool{}}
	s := newTestStepper(t, r)
	broken := agent.New("Moth", nil, world.Position{X: 4, Y: 4})
	healthy := agent.New("Zix", nil, world.Position{X: 5, Y: 5})
	r.failAgents[broken.ID] = true
	if err := s.AddAgent(broken); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}
	if err := s.AddAgent(healthy); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}

	if err := s.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := s.Tick(); got != 1 {
		t.Errorf("Tick = %d, want 1", got)
	}
	if got := broken.Memories.Len(); got != 0 {
		t.Errorf("idled agent has %d records, want 0", got)
	}
	if healthy.Memories.Len() == 0 {
		t.Error("healthy agent recorded nothing")
	}
}

func TestIntentsForwardedToSink(t *testing.T) {
	r := &scriptedReasoner{planByAgent: map[string]string{}}
	s := newTestStepper(t, r)
	sink := &captureSink{}
	s.SetIntentSink(sink)

	a := agent.New("Zix", nil, world.Position{X: 4, Y: 4})
	r.planByAgent[a.ID] = "PLAN: paint\nGOTO: stay\nMOOD: inspired 0.5\nCREATE: image the plaza at dusk"
	if err := s.AddAgent(a); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}

	if err := s.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(sink.intents) != 1 {
		t.Fatalf("got %d intents, want 1", len(sink.intents))
	}
	in := sink.intents[0]
	if in.AgentID != a.ID || in.Kind != agent.CreativeImage || in.Tick != 1 {
		t.Errorf("intent = %+v", in)
	}
}

type fakeRelations struct {
	meetings int
	sweeps   int
}

func (f *fakeRelations) RecordMeeting(_ context.Context, _, _ string, _ int64) error {
	f.meetings++
	return nil
}

func (f *fakeRelations) DecaySweep(_ context.Context) (int, error) {
	f.sweeps++
	return 0, nil
}

func TestRelationDecaySweepCadence(t *testing.T) {
	s := New(testTown(t), &scriptedReasoner{}, hashEmbedder{},
		Config{PoolSize: 4, RelationDecayEvery: 2}, agent.DefaultCycleConfig(), zap.NewNop())
	rel := &fakeRelations{}
	s.SetRelationGraph(rel)

	a1 := agent.New("Zix", nil, world.Position{X: 4, Y: 4})
	a2 := agent.New("Vreel", nil, world.Position{X: 5, Y: 4})
	for _, a := range []*agent.Agent{a1, a2} {
		if err := s.AddAgent(a); err != nil {
			t.Fatalf("AddAgent: %v", err)
		}
	}

	for i := 0; i < 4; i++ {
		if err := s.Step(context.Background()); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	if rel.meetings == 0 {
		t.Error("co-located residents never met")
	}
	if rel.sweeps != 2 {
		t.Errorf("got %d decay sweeps over 4 ticks, want 2", rel.sweeps)
	}
}

func TestRetrievalConfigPlumbed(t *testing.T) {
	custom := memory.RetrievalConfig{
		RecencyWeight:    1.0,
		ImportanceWeight: 1.0,
		RelevanceWeight:  5.0,
		RecencyDecay:     0.9,
	}
	s := New(testTown(t), &scriptedReasoner{}, hashEmbedder{},
		Config{Retrieval: custom}, agent.DefaultCycleConfig(), zap.NewNop())
	if s.cfg.Retrieval != custom {
		t.Errorf("retrieval config = %+v, want %+v", s.cfg.Retrieval, custom)
	}

	s = newTestStepper(t, &scriptedReasoner{})
	if s.cfg.Retrieval != memory.DefaultRetrievalConfig() {
		t.Errorf("zero retrieval config not defaulted: %+v", s.cfg.Retrieval)
	}
}

func TestCoLocatedAgentsStepDeterministically(t *testing.T) {
	run := func() map[string][]string {
		s := newTestStepper(t, &scriptedReasoner{})
		names := []string{"Zix", "Vreel", "Otto", "Lumen", "Moth"}
		ids := make(map[string]string, len(names))
		for _, n := range names {
			a := agent.New(n, nil, world.Position{X: 4, Y: 4})
			a.ID = n
			if err := s.AddAgent(a); err != nil {
				t.Fatalf("AddAgent %s: %v", n, err)
			}
			ids[n] = a.ID
		}
		for i := 0; i < 3; i++ {
			if err := s.Step(context.Background()); err != nil {
				t.Fatalf("Step %d: %v", i, err)
			}
		}
		streams := make(map[string][]string, len(names))
		for _, n := range names {
			a, err := s.Agent(ids[n])
			if err != nil {
				t.Fatalf("Agent %s: %v", n, err)
			}
			for _, r := range a.Memories.All() {
				streams[n] = append(streams[n], r.Content)
			}
		}
		return streams
	}

	first := run()
	for attempt := 0; attempt < 5; attempt++ {
		again := run()
		for name, want := range first {
			got := again[name]
			if len(got) != len(want) {
				t.Fatalf("run %d: %s recorded %d records, want %d", attempt, name, len(got), len(want))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("run %d: %s record %d = %q, want %q", attempt, name, i, got[i], want[i])
				}
			}
		}
	}
}

func TestRemoveAgent(t *testing.T) {
	s := newTestStepper(t, &scriptedReasoner{})
	a := agent.New("Zix", nil, world.Position{X: 4, Y: 4})
	if err := s.AddAgent(a); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}
	if err := s.RemoveAgent(a.ID); err != nil {
		t.Fatalf("RemoveAgent: %v", err)
	}
	if err := s.RemoveAgent(a.ID); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("second remove = %v, want ErrUnknownAgent", err)
	}
	if got := len(s.Agents()); got != 0 {
		t.Errorf("roster size = %d, want 0", got)
	}
}
