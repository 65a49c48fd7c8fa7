// Package clickhouse provides a ClickHouse-backed warehouse. Each run loads
// into staging tables which Commit swaps with the live tables.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/fidde/songplay_lake/internal/storage"
	"github.com/fidde/songplay_lake/pkg/models"
)

// ErrTxnDone is returned when a finished transaction is used.
var ErrTxnDone = errors.New("transaction already committed or rolled back")

// Store implements storage.Storage using ClickHouse.
type Store struct {
	conn      driver.Conn
	logger    *slog.Logger
	batchSize int
	mu        sync.Mutex // one run at a time per store
}

// NewStore connects to ClickHouse and initializes bookkeeping tables.
func NewStore(ctx context.Context, cfg *ConnectionConfig, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := Connect(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to ClickHouse: %w", err)
	}

	if err := InitializeSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	logger.Info("clickhouse store initialized",
		"addr", cfg.Addr,
		"database", cfg.Database,
		"batch_size", cfg.BatchSize,
	)

	return &Store{
		conn:      conn,
		logger:    logger,
		batchSize: cfg.BatchSize,
	}, nil
}

// Name implements storage.Storage.
func (s *Store) Name() string {
	return "clickhouse"
}

// Begin implements storage.Storage.
func (s *Store) Begin(ctx context.Context, runID string) (storage.Txn, error) {
	s.mu.Lock()
	return &Txn{
		store:  s,
		runID:  runID,
		logger: s.logger.With("run_id", runID),
	}, nil
}

// RowCount returns the number of rows in a live table.
func (s *Store) RowCount(ctx context.Context, table string) (uint64, error) {
	var n uint64
	row := s.conn.QueryRow(ctx, "SELECT count() FROM "+quote(table))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

// Close implements storage.Storage.
func (s *Store) Close() error {
	return s.conn.Close()
}

type stagedTable struct {
	name     string
	liveDDL  string
	rowCount int
}

// Txn is a staged run against a Store.
type Txn struct {
	store  *Store
	runID  string
	logger *slog.Logger
	staged []stagedTable
	done   bool
}

// WriteTable loads table into a fresh staging table.
func (t *Txn) WriteTable(ctx context.Context, table *models.Table, partitionBy []string, mode models.WriteMode) error {
	if t.done {
		return ErrTxnDone
	}
	if err := storage.ValidateWrite(table, partitionBy, mode); err != nil {
		return err
	}

	staging := table.Name + stagingSuffix
	conn := t.store.conn

	if err := conn.Exec(ctx, "DROP TABLE IF EXISTS "+quote(staging)); err != nil {
		return fmt.Errorf("dropping %s: %w", staging, err)
	}
	if err := conn.Exec(ctx, createTableDDL(staging, table, partitionBy, false)); err != nil {
		return fmt.Errorf("creating %s: %w", staging, err)
	}
	if err := insertTable(ctx, conn, staging, table, t.store.batchSize, t.logger); err != nil {
		t.dropStaging(ctx, []stagedTable{{name: table.Name}})
		return fmt.Errorf("loading %s: %w", staging, err)
	}

	// A retried WriteTable for the same table replaces the earlier entry.
	entry := stagedTable{
		name:     table.Name,
		liveDDL:  createTableDDL(table.Name, table, partitionBy, true),
		rowCount: len(table.Rows),
	}
	for i := range t.staged {
		if t.staged[i].name == table.Name {
			t.staged[i] = entry
			return nil
		}
	}
	t.staged = append(t.staged, entry)
	return nil
}

// Commit swaps every staging table with its live table and drops the old
// contents. EXCHANGE TABLES is atomic per table.
func (t *Txn) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	defer t.store.mu.Unlock()

	conn := t.store.conn
	for i, st := range t.staged {
		staging := st.name + stagingSuffix

		if err := conn.Exec(ctx, st.liveDDL); err != nil {
			return t.abandon(ctx, i, fmt.Errorf("creating %s: %w", st.name, err))
		}
		if err := conn.Exec(ctx, fmt.Sprintf("EXCHANGE TABLES %s AND %s", quote(staging), quote(st.name))); err != nil {
			return t.abandon(ctx, i, fmt.Errorf("publishing %s: %w", st.name, err))
		}
		if err := conn.Exec(ctx, "DROP TABLE IF EXISTS "+quote(staging)); err != nil {
			t.logger.Warn("failed to drop previous table contents", "table", st.name, "error", err)
		}
	}

	for _, st := range t.staged {
		err := conn.Exec(ctx,
			"INSERT INTO publish_log (run_id, table_name, row_count, published_at) VALUES (?, ?, ?, ?)",
			t.runID, st.name, uint64(st.rowCount), time.Now(),
		)
		if err != nil {
			t.logger.Warn("failed to record publish", "table", st.name, "error", err)
		}
	}

	t.logger.Info("run published", "tables", len(t.staged))
	return nil
}

// abandon drops the staging tables that were not yet swapped in.
func (t *Txn) abandon(ctx context.Context, from int, cause error) error {
	if from > 0 {
		t.logger.Error("partial publish", "published", from, "pending", len(t.staged)-from, "error", cause)
	}
	t.dropStaging(ctx, t.staged[from:])
	return cause
}

func (t *Txn) dropStaging(ctx context.Context, tables []stagedTable) {
	for _, st := range tables {
		if err := t.store.conn.Exec(ctx, "DROP TABLE IF EXISTS "+quote(st.name+stagingSuffix)); err != nil {
			t.logger.Warn("failed to drop staging table", "table", st.name, "error", err)
		}
	}
}

// Rollback implements storage.Txn.
func (t *Txn) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.mu.Unlock()

	t.dropStaging(ctx, t.staged)
	t.staged = nil
	return nil
}
