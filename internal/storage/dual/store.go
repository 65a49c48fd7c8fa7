// Package dual mirrors a warehouse into a second backend.
package dual

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fidde/songplay_lake/internal/storage"
	"github.com/fidde/songplay_lake/pkg/models"
)

// Store wraps two storage backends.
// Writes go to both primary and secondary; only the primary decides whether
// a run succeeds. A secondary failure is logged and the secondary's staged
// output is discarded, so it keeps its previous run.
type Store struct {
	primary   storage.Storage
	secondary storage.Storage
	logger    *slog.Logger
}

// Config holds dual store configuration.
type Config struct {
	Primary   storage.Storage
	Secondary storage.Storage
	Logger    *slog.Logger
}

// New creates a new dual-write store.
func New(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Store{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		logger:    cfg.Logger,
	}
}

// Name implements storage.Storage.
func (s *Store) Name() string {
	return fmt.Sprintf("dual(%s,%s)", s.primary.Name(), s.secondary.Name())
}

// Begin starts a transaction on both backends.
func (s *Store) Begin(ctx context.Context, runID string) (storage.Txn, error) {
	ptx, err := s.primary.Begin(ctx, runID)
	if err != nil {
		return nil, err
	}

	t := &Txn{primary: ptx, logger: s.logger.With("run_id", runID, "secondary", s.secondary.Name())}
	stx, err := s.secondary.Begin(ctx, runID)
	if err != nil {
		t.logger.Error("dual-write to secondary failed", "operation", "Begin", "error", err)
	} else {
		t.secondary = stx
	}
	return t, nil
}

// Close closes both backends.
func (s *Store) Close() error {
	var firstErr error

	if err := s.primary.Close(); err != nil {
		s.logger.Error("failed to close primary", "error", err)
		firstErr = err
	}

	if err := s.secondary.Close(); err != nil {
		s.logger.Error("failed to close secondary", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Txn fans writes out to both backends.
type Txn struct {
	primary   storage.Txn
	secondary storage.Txn // nil once the secondary has failed
	logger    *slog.Logger
}

// dropSecondary discards the secondary's staged output after a failure.
func (t *Txn) dropSecondary(ctx context.Context, op string, err error) {
	t.logger.Error("dual-write to secondary failed",
		"operation", op,
		"error", err,
	)
	if rerr := t.secondary.Rollback(ctx); rerr != nil {
		t.logger.Warn("secondary rollback failed", "error", rerr)
	}
	t.secondary = nil
}

// WriteTable implements storage.Txn.
func (t *Txn) WriteTable(ctx context.Context, table *models.Table, partitionBy []string, mode models.WriteMode) error {
	if err := t.primary.WriteTable(ctx, table, partitionBy, mode); err != nil {
		return err
	}
	if t.secondary != nil {
		if err := t.secondary.WriteTable(ctx, table, partitionBy, mode); err != nil {
			t.dropSecondary(ctx, "WriteTable", err)
		}
	}
	return nil
}

// Commit publishes the primary, then the secondary.
func (t *Txn) Commit(ctx context.Context) error {
	if err := t.primary.Commit(ctx); err != nil {
		if t.secondary != nil {
			t.secondary.Rollback(ctx)
			t.secondary = nil
		}
		return err
	}
	if t.secondary != nil {
		if err := t.secondary.Commit(ctx); err != nil {
			t.logger.Error("dual-write to secondary failed",
				"operation", "Commit",
				"error", err,
			)
		}
		t.secondary = nil
	}
	return nil
}

// Rollback implements storage.Txn.
func (t *Txn) Rollback(ctx context.Context) error {
	if t.secondary != nil {
		if err := t.secondary.Rollback(ctx); err != nil {
			t.logger.Warn("secondary rollback failed", "error", err)
		}
		t.secondary = nil
	}
	return t.primary.Rollback(ctx)
}
