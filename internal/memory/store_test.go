package memory

import (
	"errors"
	"testing"
)

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	s := NewStore()
	for i := 1; i <= 3; i++ {
		id, err := s.Append(&Record{Kind: KindObservation, Content: "obs", CreatedAtTick: int64(i)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != int64(i) {
			t.Errorf("got id %d, want %d", id, i)
		}
	}
	if s.Len() != 3 {
		t.Errorf("got len %d, want 3", s.Len())
	}
}

func TestAppendRejectsForwardReference(t *testing.T) {
	s := NewStore()
	if _, err := s.Append(&Record{Kind: KindObservation, CreatedAtTick: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Self reference: the reflection being appended would get id 2.
	_, err := s.Append(&Record{Kind: KindReflection, CreatedAtTick: 1, References: []int64{2}})
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("self reference: got %v, want ErrInvalidReference", err)
	}

	// Forward reference to a record that does not exist yet.
	_, err = s.Append(&Record{Kind: KindReflection, CreatedAtTick: 1, References: []int64{7}})
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("forward reference: got %v, want ErrInvalidReference", err)
	}

	// Valid backward reference.
	if _, err := s.Append(&Record{Kind: KindReflection, CreatedAtTick: 1, References: []int64{1}}); err != nil {
		t.Errorf("backward reference: unexpected error: %v", err)
	}
}

func TestAppendRejectsObservationReferences(t *testing.T) {
	s := NewStore()
	if _, err := s.Append(&Record{Kind: KindObservation, CreatedAtTick: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := s.Append(&Record{Kind: KindObservation, CreatedAtTick: 0, References: []int64{1}})
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("got %v, want ErrInvalidReference", err)
	}
}

func TestAppendRejectsTickRegression(t *testing.T) {
	s := NewStore()
	if _, err := s.Append(&Record{Kind: KindObservation, CreatedAtTick: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := s.Append(&Record{Kind: KindObservation, CreatedAtTick: 4})
	if !errors.Is(err, ErrTickRegression) {
		t.Errorf("got %v, want ErrTickRegression", err)
	}
}

func TestLastTickTracksNewestRecord(t *testing.T) {
	s := NewStore()
	if got := s.LastTick(); got != 0 {
		t.Errorf("empty store last tick = %d, want 0", got)
	}
	if _, err := s.Append(&Record{Kind: KindObservation, CreatedAtTick: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.LastTick(); got != 5 {
		t.Errorf("last tick = %d, want 5", got)
	}
}

func TestAppendClampsImportance(t *testing.T) {
	s := NewStore()
	id, err := s.Append(&Record{Kind: KindObservation, CreatedAtTick: 0, Importance: 99})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, _ := s.Get(id)
	if r.Importance != MaxImportance {
		t.Errorf("got importance %v, want %v", r.Importance, MaxImportance)
	}
}

func TestTouchNeverDropsBelowCreation(t *testing.T) {
	s := NewStore()
	id, _ := s.Append(&Record{Kind: KindObservation, CreatedAtTick: 10})

	s.Touch(id, 5)
	r, _ := s.Get(id)
	if r.LastAccessTick != 10 {
		t.Errorf("got last access %d, want 10", r.LastAccessTick)
	}

	s.Touch(id, 20)
	if r.LastAccessTick != 20 {
		t.Errorf("got last access %d, want 20", r.LastAccessTick)
	}
}

func TestAllPreservesCreationOrder(t *testing.T) {
	s := NewStore()
	s.Append(&Record{Kind: KindObservation, Content: "a", CreatedAtTick: 0})
	s.Append(&Record{Kind: KindObservation, Content: "b", CreatedAtTick: 1})
	s.Append(&Record{Kind: KindObservation, Content: "c", CreatedAtTick: 1})

	all := s.All()
	if len(all) != 3 {
		t.Fatalf("got %d records, want 3", len(all))
	}
	for i, want := range []string{"a", "b", "c"} {
		if all[i].Content != want {
			t.Errorf("record %d: got %q, want %q", i, all[i].Content, want)
		}
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	s := NewStore()
	s.Append(&Record{Kind: KindObservation, Content: "a", CreatedAtTick: 0, Importance: 3})
	s.Append(&Record{Kind: KindObservation, Content: "b", CreatedAtTick: 1, Importance: 8})
	s.Append(&Record{Kind: KindReflection, Content: "r", CreatedAtTick: 2, References: []int64{1, 2}})

	restored, err := Restore(s.All())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if restored.Len() != s.Len() {
		t.Fatalf("got len %d, want %d", restored.Len(), s.Len())
	}
	orig, back := s.All(), restored.All()
	for i := range orig {
		if back[i].ID != orig[i].ID || back[i].Content != orig[i].Content {
			t.Errorf("record %d differs after restore", i)
		}
	}
}

func TestRestoreRejectsBrokenSequence(t *testing.T) {
	records := []*Record{
		{ID: 1, Kind: KindObservation, CreatedAtTick: 0},
		{ID: 3, Kind: KindObservation, CreatedAtTick: 1},
	}
	if _, err := Restore(records); err == nil {
		t.Error("expected error for gap in id sequence")
	}
}
