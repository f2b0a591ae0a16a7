// Package store persists simulation checkpoints. Two backends are
// provided: PostgreSQL for deployments and a plain directory of JSON
// files for local runs. Both satisfy sim.Persister.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jiejieje/alien-town/internal/sim"
	"go.uber.org/zap"
)

// ErrNoCheckpoint is returned by Load when nothing was ever saved.
var ErrNoCheckpoint = errors.New("no checkpoint")

// PGStore keeps checkpoints in a PostgreSQL table, one row per save,
// newest row wins on load.
type PGStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPGStore creates a store with a pgx connection pool.
func NewPGStore(dsn string, logger *zap.Logger) (*PGStore, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &PGStore{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations
// directory in name order.
func (s *PGStore) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Save inserts the checkpoint as a new row.
func (s *PGStore) Save(ctx context.Context, cp *sim.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO checkpoints (tick, saved_at, data)
		VALUES ($1, $2, $3)`,
		cp.Tick, cp.SavedAt, data,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.logger.Info("checkpoint saved",
		zap.Int64("tick", cp.Tick),
		zap.Int("agents", len(cp.Agents)))
	return nil
}

// Load returns the most recently saved checkpoint.
func (s *PGStore) Load(ctx context.Context) (*sim.Checkpoint, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `
		SELECT data FROM checkpoints
		ORDER BY id DESC
		LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var cp sim.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", sim.ErrCorruptCheckpoint, err)
	}
	return &cp, nil
}

// Prune deletes all but the newest keep rows.
func (s *PGStore) Prune(ctx context.Context, keep int) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM checkpoints
		WHERE id NOT IN (
			SELECT id FROM checkpoints ORDER BY id DESC LIMIT $1
		)`, keep)
	if err != nil {
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (s *PGStore) Close() {
	s.db.Close()
}
