package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jiejieje/alien-town/internal/agent"
	"github.com/jiejieje/alien-town/internal/memory"
)

// ErrCorruptCheckpoint is returned when a checkpoint fails validation.
// A corrupt checkpoint is never partially applied.
var ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

// CheckpointVersion is bumped when the checkpoint layout changes.
const CheckpointVersion = 1

// Checkpoint is a full snapshot of the simulation at a tick boundary.
// In-flight creative jobs are deliberately not captured; they are
// re-derived from intents after resume.
type Checkpoint struct {
	Version int           `json:"version"`
	Tick    int64         `json:"tick"`
	SavedAt time.Time     `json:"saved_at"`
	Agents  []agent.State `json:"agents"`
}

// Persister stores and retrieves checkpoints. Implementations live in
// internal/store.
type Persister interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context) (*Checkpoint, error)
}

// Validate checks the structural invariants of a checkpoint before it
// is applied. Every violation wraps ErrCorruptCheckpoint.
func (cp *Checkpoint) Validate() error {
	if cp.Version != CheckpointVersion {
		return fmt.Errorf("%w: version %d, expected %d", ErrCorruptCheckpoint, cp.Version, CheckpointVersion)
	}
	if cp.Tick < 0 {
		return fmt.Errorf("%w: negative tick %d", ErrCorruptCheckpoint, cp.Tick)
	}
	seen := make(map[string]bool, len(cp.Agents))
	for _, st := range cp.Agents {
		if st.ID == "" || st.Name == "" {
			return fmt.Errorf("%w: agent with empty id or name", ErrCorruptCheckpoint)
		}
		if seen[st.ID] {
			return fmt.Errorf("%w: duplicate agent id %s", ErrCorruptCheckpoint, st.ID)
		}
		seen[st.ID] = true
		if err := validateRecords(st, cp.Tick); err != nil {
			return err
		}
	}
	return nil
}

func validateRecords(st agent.State, tick int64) error {
	for i, r := range st.Records {
		want := int64(i + 1)
		if r.ID != want {
			return fmt.Errorf("%w: %s record %d has id %d", ErrCorruptCheckpoint, st.Name, want, r.ID)
		}
		if r.CreatedAtTick > tick {
			return fmt.Errorf("%w: %s record %d created at tick %d, after checkpoint tick %d",
				ErrCorruptCheckpoint, st.Name, r.ID, r.CreatedAtTick, tick)
		}
		if r.LastAccessTick < r.CreatedAtTick || r.LastAccessTick > tick {
			return fmt.Errorf("%w: %s record %d has last access tick %d outside [%d, %d]",
				ErrCorruptCheckpoint, st.Name, r.ID, r.LastAccessTick, r.CreatedAtTick, tick)
		}
		if r.Kind == memory.KindObservation && len(r.References) > 0 {
			return fmt.Errorf("%w: %s observation %d carries references", ErrCorruptCheckpoint, st.Name, r.ID)
		}
		for _, ref := range r.References {
			if ref < 1 || ref >= r.ID {
				return fmt.Errorf("%w: %s record %d references %d", ErrCorruptCheckpoint, st.Name, r.ID, ref)
			}
		}
	}
	max := int64(len(st.Records))
	for _, id := range st.Unreflected {
		if id < 1 || id > max {
			return fmt.Errorf("%w: %s unreflected id %d out of range", ErrCorruptCheckpoint, st.Name, id)
		}
	}
	return nil
}
