package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jiejieje/alien-town/internal/memory"
	"github.com/jiejieje/alien-town/internal/world"
	"go.uber.org/zap"
)

type stubReasoner struct {
	planReply    string
	importances  string
	insight      string
	failPlanning bool
	planCalls    int
}

func (s *stubReasoner) Reason(_ context.Context, _, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "Rate how emotionally significant"):
		return s.importances, nil
	case strings.Contains(prompt, "one high-level insight"):
		return s.insight, nil
	default:
		s.planCalls++
		if s.failPlanning {
			return "", errors.New("upstream timeout")
		}
		return s.planReply, nil
	}
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
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

func (stubEmbedder) Dimension() int { return 4 }

func testFacts() world.Facts {
	return world.Facts{
		Position:      world.Position{X: 3, Y: 3},
		Place:         "the plaza",
		NearbyAgents:  []world.NearbyAgent{{ID: "a2", Name: "Vreel"}},
		NearbyObjects: []string{"easel"},
	}
}

func testCycle(t *testing.T, r *stubReasoner, cfg CycleConfig) *Cycle {
	t.Helper()
	a := New("Zix", []string{"curious"}, world.Position{X: 3, Y: 3})
	c := NewCycle(a, r, stubEmbedder{}, memory.NewRetriever(memory.DefaultRetrievalConfig()), cfg, zap.NewNop())
	c.SetPlaces([]string{"the plaza", "the observatory"})
	return c
}

func TestStepRecordsObservationsAndPlan(t *testing.T) {
	r := &stubReasoner{
		planReply:   "PLAN: sketch the easel; talk to Vreel\nGOTO: the observatory\nMOOD: curious 0.4\nCREATE: none",
		importances: "4\n6\n2",
	}
	c := testCycle(t, r, DefaultCycleConfig())

	out, err := c.Step(context.Background(), 1, testFacts())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if out.GotoPlace != "the observatory" {
		t.Errorf("GotoPlace = %q, want %q", out.GotoPlace, "the observatory")
	}
	if out.Intent != nil {
		t.Errorf("Intent = %+v, want nil", out.Intent)
	}

	all := c.Agent().Memories.All()
	// 3 observations plus 1 plan.
	if len(all) != 4 {
		t.Fatalf("got %d records, want 4", len(all))
	}
	for i := 0; i < 3; i++ {
		if all[i].Kind != memory.KindObservation {
			t.Errorf("record %d kind = %q, want observation", i+1, all[i].Kind)
		}
	}
	plan := all[3]
	if plan.Kind != memory.KindPlan {
		t.Fatalf("record 4 kind = %q, want plan", plan.Kind)
	}
	if plan.Content != "sketch the easel; talk to Vreel" {
		t.Errorf("plan content = %q", plan.Content)
	}
	if all[1].Importance != 6 {
		t.Errorf("second observation importance = %v, want 6", all[1].Importance)
	}
}

func TestStepAbortLeavesNoTrace(t *testing.T) {
	r := &stubReasoner{importances: "3\n3\n3", failPlanning: true}
	c := testCycle(t, r, DefaultCycleConfig())
	a := c.Agent()
	a.plan = []string{"water the glow ferns"}

	_, err := c.Step(context.Background(), 1, testFacts())
	if err == nil {
		t.Fatal("Step succeeded, want error")
	}
	if got := a.Memories.Len(); got != 0 {
		t.Errorf("store has %d records after abort, want 0", got)
	}
	if got := a.Plan(); len(got) != 1 || got[0] != "water the glow ferns" {
		t.Errorf("plan = %v, want prior plan retained", got)
	}
}

func TestReflectionTriggerAndReset(t *testing.T) {
	r := &stubReasoner{
		planReply:   "PLAN: wander\nGOTO: stay\nMOOD: calm 0.2\nCREATE: none",
		importances: "9\n9\n9",
		insight:     "Zix is drawn to the easel more than to company.",
	}
	cfg := DefaultCycleConfig()
	cfg.ReflectionThreshold = 20
	c := testCycle(t, r, cfg)

	out, err := c.Step(context.Background(), 1, testFacts())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !out.Reflected {
		t.Fatal("Reflected = false, want true at 27 accumulated poignancy")
	}

	all := c.Agent().Memories.All()
	// 3 observations, 1 reflection, 1 plan.
	if len(all) != 5 {
		t.Fatalf("got %d records, want 5", len(all))
	}
	refl := all[3]
	if refl.Kind != memory.KindReflection {
		t.Fatalf("record 4 kind = %q, want reflection", refl.Kind)
	}
	wantRefs := []int64{1, 2, 3}
	if len(refl.References) != len(wantRefs) {
		t.Fatalf("reflection references = %v, want %v", refl.References, wantRefs)
	}
	for i, id := range wantRefs {
		if refl.References[i] != id {
			t.Errorf("reference %d = %d, want %d", i, refl.References[i], id)
		}
	}
	if refl.Importance != 10 {
		t.Errorf("reflection importance = %v, want 10 (peak 9 plus 1)", refl.Importance)
	}
	if c.Agent().poignancy != 0 {
		t.Errorf("poignancy = %v after reflection, want 0", c.Agent().poignancy)
	}
	if len(c.Agent().unreflected) != 0 {
		t.Errorf("unreflected = %v after reflection, want empty", c.Agent().unreflected)
	}

	// The next low-importance tick must not reflect again.
	r.importances = "1\n1\n1"
	out, err = c.Step(context.Background(), 2, testFacts())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if out.Reflected {
		t.Error("Reflected = true on second tick, want false")
	}
}

func TestPlanReferencesRetrievedRecords(t *testing.T) {
	r := &stubReasoner{
		planReply:   "PLAN: revisit the easel\nGOTO: stay\nMOOD: calm 0.1\nCREATE: none",
		importances: "2\n2\n2",
	}
	cfg := DefaultCycleConfig()
	cfg.RetrieveK = 2
	c := testCycle(t, r, cfg)

	if _, err := c.Step(context.Background(), 1, testFacts()); err != nil {
		t.Fatalf("first Step: %v", err)
	}
	if _, err := c.Step(context.Background(), 2, testFacts()); err != nil {
		t.Fatalf("second Step: %v", err)
	}

	all := c.Agent().Memories.All()
	plan := all[len(all)-1]
	if plan.Kind != memory.KindPlan {
		t.Fatalf("last record kind = %q, want plan", plan.Kind)
	}
	if len(plan.References) != 2 {
		t.Fatalf("plan references = %v, want 2 retrieved ids", plan.References)
	}
	for _, id := range plan.References {
		if id < 1 || id > 4 {
			t.Errorf("plan reference %d outside first-tick records", id)
		}
	}
}

func TestCreativeIntentAndCooldown(t *testing.T) {
	r := &stubReasoner{
		planReply:   "PLAN: paint the twin moons\nGOTO: stay\nMOOD: inspired 0.9\nCREATE: image twin moons over the plaza",
		importances: "3\n3\n3",
	}
	cfg := DefaultCycleConfig()
	cfg.CreativeCooldown = 10
	c := testCycle(t, r, cfg)

	out, err := c.Step(context.Background(), 1, testFacts())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if out.Intent == nil {
		t.Fatal("Intent = nil, want image intent")
	}
	if out.Intent.Kind != CreativeImage {
		t.Errorf("Intent.Kind = %q, want image", out.Intent.Kind)
	}
	if out.Intent.Prompt != "twin moons over the plaza" {
		t.Errorf("Intent.Prompt = %q", out.Intent.Prompt)
	}
	if out.Intent.Tick != 1 {
		t.Errorf("Intent.Tick = %d, want 1", out.Intent.Tick)
	}

	// Same directive inside the cooldown window is suppressed.
	out, err = c.Step(context.Background(), 2, testFacts())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if out.Intent != nil {
		t.Errorf("Intent = %+v inside cooldown, want nil", out.Intent)
	}

	// And allowed again once the window passes.
	out, err = c.Step(context.Background(), 11, testFacts())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if out.Intent == nil {
		t.Error("Intent = nil after cooldown, want image intent")
	}
}

func TestMoodDrivenIntent(t *testing.T) {
	r := &stubReasoner{
		planReply:   "PLAN: stare at the sky\nGOTO: stay\nMOOD: euphoric 0.95\nCREATE: none",
		importances: "3\n3\n3",
	}
	c := testCycle(t, r, DefaultCycleConfig())

	out, err := c.Step(context.Background(), 1, testFacts())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if out.Intent == nil {
		t.Fatal("Intent = nil, want mood-driven image intent")
	}
	if out.Intent.Kind != CreativeImage {
		t.Errorf("Intent.Kind = %q, want image", out.Intent.Kind)
	}
}
