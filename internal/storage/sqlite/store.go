// Package sqlite provides a SQLite-backed warehouse. A run is a single SQL
// transaction, so the five tables are replaced all-or-nothing.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fidde/songplay_lake/internal/storage"
	"github.com/fidde/songplay_lake/pkg/models"
	_ "modernc.org/sqlite"
)

// timeLayout stores timestamps as wall-clock text.
const timeLayout = "2006-01-02 15:04:05.000"

const publishLogDDL = `
CREATE TABLE IF NOT EXISTS publish_log (
	run_id       TEXT NOT NULL,
	table_name   TEXT NOT NULL,
	row_count    INTEGER NOT NULL,
	published_at TEXT NOT NULL
)`

// Config holds SQLite store configuration.
type Config struct {
	DBPath string
	// BatchSize is the number of rows inserted per prepared statement flush.
	BatchSize int
}

// DefaultConfig returns default SQLite configuration.
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:    dbPath,
		BatchSize: 500,
	}
}

// Store is a SQLite-backed warehouse.
type Store struct {
	db        *sql.DB
	batchSize int
	closeOnce sync.Once
}

// New opens the database and prepares it for writes.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000", // 64MB cache
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(publishLogDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating publish_log: %w", err)
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}

	return &Store{db: db, batchSize: cfg.BatchSize}, nil
}

// Name implements storage.Storage.
func (s *Store) Name() string {
	return "sqlite"
}

// Begin implements storage.Storage.
func (s *Store) Begin(ctx context.Context, runID string) (storage.Txn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Txn{store: s, tx: tx, runID: runID, rows: make(map[string]int)}, nil
}

// RowCount returns the number of rows in a published table.
func (s *Store) RowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(table)).Scan(&n)
	return n, err
}

// DB exposes the underlying handle for ad-hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}

// Txn wraps one SQL transaction.
type Txn struct {
	store *Store
	tx    *sql.Tx
	runID string
	mu    sync.Mutex
	rows  map[string]int
}

// WriteTable implements storage.Txn. The table is dropped and recreated
// inside the transaction; partition columns get an index.
func (t *Txn) WriteTable(ctx context.Context, table *models.Table, partitionBy []string, mode models.WriteMode) error {
	if err := storage.ValidateWrite(table, partitionBy, mode); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	name := quote(table.Name)
	if _, err := t.tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return fmt.Errorf("dropping %s: %w", table.Name, err)
	}
	if _, err := t.tx.ExecContext(ctx, createTableDDL(table)); err != nil {
		return fmt.Errorf("creating %s: %w", table.Name, err)
	}
	if len(partitionBy) > 0 {
		cols := make([]string, len(partitionBy))
		for i, c := range partitionBy {
			cols[i] = quote(c)
		}
		ddl := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", quote("idx_"+table.Name+"_partition"), name, strings.Join(cols, ", "))
		if _, err := t.tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("indexing %s: %w", table.Name, err)
		}
	}

	if err := t.insertRows(ctx, table); err != nil {
		return fmt.Errorf("inserting into %s: %w", table.Name, err)
	}
	t.rows[table.Name] = table.Len()
	return nil
}

func (t *Txn) insertRows(ctx context.Context, table *models.Table) error {
	if table.Len() == 0 {
		return nil
	}

	cols := make([]string, len(table.Columns))
	marks := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = quote(c.Name)
		marks[i] = "?"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(table.Name), strings.Join(cols, ", "), strings.Join(marks, ", "))

	stmt, err := t.tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	args := make([]any, len(table.Columns))
	for i, row := range table.Rows {
		for j, v := range row {
			args[j] = toSQL(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if (i+1)%t.store.batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Commit implements storage.Txn.
func (t *Txn) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	for name, n := range t.rows {
		if _, err := t.tx.ExecContext(ctx,
			"INSERT INTO publish_log (run_id, table_name, row_count, published_at) VALUES (?, ?, ?, ?)",
			t.runID, name, n, now); err != nil {
			return fmt.Errorf("recording publish of %s: %w", name, err)
		}
	}

	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback implements storage.Txn.
func (t *Txn) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func createTableDDL(table *models.Table) string {
	defs := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		def := quote(c.Name) + " " + sqlType(c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", quote(table.Name), strings.Join(defs, ",\n\t"))
}

func sqlType(t models.ColumnType) string {
	switch t {
	case models.TypeInt32, models.TypeInt64:
		return "INTEGER"
	case models.TypeFloat64:
		return "REAL"
	default:
		return "TEXT"
	}
}

func toSQL(v any) any {
	if ts, ok := v.(time.Time); ok {
		return ts.Format(timeLayout)
	}
	return v
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
