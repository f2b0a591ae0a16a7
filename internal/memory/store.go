package memory

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidReference is returned when a reflection or plan references
// a record id that has not been appended yet, references itself, or
// when an observation carries references at all.
var ErrInvalidReference = errors.New("invalid memory reference")

// ErrTickRegression is returned when an append would violate the
// invariant that creation ticks are non-decreasing in id order.
var ErrTickRegression = errors.New("creation tick regression")

// MaxImportance caps the importance score assigned at creation.
const MaxImportance = 10.0

// Store is an append-only arena of records owned by exactly one agent.
// Ids are monotonic starting at 1. There is no deletion: past
// experience stays queryable indefinitely so reflections can keep
// referencing it. The mutex covers the out-of-band writer (the creative
// dispatcher attaching artifact records) racing the agent's own cycle.
type Store struct {
	mu       sync.Mutex
	records  []*Record
	lastTick int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Restore rebuilds a store from checkpointed records, re-validating the
// whole sequence. It fails on the first structural violation.
func Restore(records []*Record) (*Store, error) {
	s := NewStore()
	for _, r := range records {
		cp := *r
		id, err := s.Append(&cp)
		if err != nil {
			return nil, err
		}
		if id != r.ID {
			return nil, fmt.Errorf("record id %d out of sequence (expected %d)", r.ID, id)
		}
	}
	return s, nil
}

// Append adds a record, assigning the next id, and returns it.
// The record's References must all point at already-appended ids, so
// the reference graph is a DAG by construction.
func (s *Store) Append(r *Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := int64(len(s.records)) + 1
	if r.Kind == KindObservation && len(r.References) > 0 {
		return 0, fmt.Errorf("%w: observation %d carries references", ErrInvalidReference, next)
	}
	for _, ref := range r.References {
		if ref < 1 || ref >= next {
			return 0, fmt.Errorf("%w: record %d references %d", ErrInvalidReference, next, ref)
		}
	}
	if r.CreatedAtTick < s.lastTick {
		return 0, fmt.Errorf("%w: tick %d after tick %d", ErrTickRegression, r.CreatedAtTick, s.lastTick)
	}

	r.ID = next
	if r.Importance < 0 {
		r.Importance = 0
	}
	if r.Importance > MaxImportance {
		r.Importance = MaxImportance
	}
	if r.LastAccessTick < r.CreatedAtTick {
		r.LastAccessTick = r.CreatedAtTick
	}

	s.records = append(s.records, r)
	s.lastTick = r.CreatedAtTick
	return next, nil
}

// LastTick reports the creation tick of the newest record, 0 when the
// store is empty. Out-of-band writers use it to stamp appends that must
// not regress behind the agent's own stream.
func (s *Store) LastTick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

// Get returns the record with the given id.
func (s *Store) Get(id int64) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || id > int64(len(s.records)) {
		return nil, false
	}
	return s.records[id-1], true
}

// All returns every record in creation order. Callers must treat the
// records as read-only.
func (s *Store) All() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Touch updates a record's last-access tick. It never moves the tick
// below the creation tick and ignores unknown ids.
func (s *Store) Touch(id int64, tick int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || id > int64(len(s.records)) {
		return
	}
	r := s.records[id-1]
	if tick > r.CreatedAtTick {
		r.LastAccessTick = tick
	}
}
