package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jiejieje/alien-town/internal/sim"
	"go.uber.org/zap"
)

// FileStore keeps checkpoints as numbered JSON files in a directory.
// Writes go through a temp file and rename, so a crash mid-save never
// leaves a truncated checkpoint behind.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Save writes the checkpoint as checkpoint-<tick>.json.
func (s *FileStore) Save(_ context.Context, cp *sim.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	final := filepath.Join(s.dir, fmt.Sprintf("checkpoint-%012d.json", cp.Tick))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	s.logger.Info("checkpoint saved",
		zap.Int64("tick", cp.Tick),
		zap.String("path", final))
	return nil
}

// Load returns the checkpoint with the highest tick.
func (s *FileStore) Load(_ context.Context) (*sim.Checkpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "checkpoint-") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, ErrNoCheckpoint
	}
	sort.Strings(names)
	latest := filepath.Join(s.dir, names[len(names)-1])

	data, err := os.ReadFile(latest)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp sim.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", sim.ErrCorruptCheckpoint, err)
	}
	return &cp, nil
}
