// Package memory provides an in-memory warehouse backend.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fidde/songplay_lake/internal/storage"
	"github.com/fidde/songplay_lake/pkg/models"
)

var (
	// ErrNotFound is returned when a requested table has not been published.
	ErrNotFound = errors.New("not found")

	// ErrTxnDone is returned when a finished transaction is used.
	ErrTxnDone = errors.New("transaction already committed or rolled back")
)

// Published is a table together with the partition columns it was written with.
type Published struct {
	Table       *models.Table
	PartitionBy []string
	RunID       string
}

// Store keeps published tables in memory.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*Published
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tables: make(map[string]*Published),
	}
}

// Name implements storage.Storage.
func (s *Store) Name() string {
	return "memory"
}

// Begin implements storage.Storage.
func (s *Store) Begin(ctx context.Context, runID string) (storage.Txn, error) {
	return &Txn{
		store:  s,
		runID:  runID,
		staged: make(map[string]*Published),
	}, nil
}

// Table returns the published table with the given name.
func (s *Store) Table(ctx context.Context, name string) (*Published, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", name, ErrNotFound)
	}
	return p, nil
}

// TableNames lists the published tables in sorted order.
func (s *Store) TableNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close implements storage.Storage.
func (s *Store) Close() error {
	return nil
}

// Txn is a staged write against a Store.
type Txn struct {
	store  *Store
	runID  string
	mu     sync.Mutex
	staged map[string]*Published
	done   bool
}

// WriteTable implements storage.Txn.
func (t *Txn) WriteTable(ctx context.Context, table *models.Table, partitionBy []string, mode models.WriteMode) error {
	if err := storage.ValidateWrite(table, partitionBy, mode); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return ErrTxnDone
	}
	t.staged[table.Name] = &Published{
		Table:       cloneTable(table),
		PartitionBy: append([]string(nil), partitionBy...),
		RunID:       t.runID,
	}
	return nil
}

// Commit implements storage.Txn. All staged tables become visible at once.
func (t *Txn) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return ErrTxnDone
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for name, p := range t.staged {
		t.store.tables[name] = p
	}
	return nil
}

// Rollback implements storage.Txn.
func (t *Txn) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done = true
	t.staged = nil
	return nil
}

// cloneTable copies the row slice so callers can reuse their table.
func cloneTable(t *models.Table) *models.Table {
	out := &models.Table{
		Name:    t.Name,
		Columns: append([]models.Column(nil), t.Columns...),
		Rows:    make([]models.Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = append(models.Row(nil), r...)
	}
	return out
}
