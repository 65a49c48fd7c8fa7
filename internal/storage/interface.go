// Package storage defines the writer boundary of the pipeline: a staged,
// overwrite-only table writer that publishes all tables of a run together.
package storage

import (
	"context"
	"fmt"

	"github.com/fidde/songplay_lake/pkg/models"
)

// Storage is a warehouse backend. Implementations must be safe for
// concurrent use, but callers must serialise runs that target the same
// location.
type Storage interface {
	// Begin starts a staged write for one pipeline run.
	Begin(ctx context.Context, runID string) (Txn, error)

	// Name identifies the backend in logs and reports.
	Name() string

	// Close releases connections and other resources.
	Close() error
}

// Txn stages table writes until Commit publishes them. Until then readers of
// the backend see the output of the previous run.
type Txn interface {
	// WriteTable stages the full contents of table, replacing whatever the
	// previous run published under the same name.
	WriteTable(ctx context.Context, table *models.Table, partitionBy []string, mode models.WriteMode) error

	// Commit publishes every staged table.
	Commit(ctx context.Context) error

	// Rollback discards staged tables. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}

// ValidateWrite checks the arguments of a WriteTable call.
func ValidateWrite(table *models.Table, partitionBy []string, mode models.WriteMode) error {
	if table == nil {
		return fmt.Errorf("table cannot be nil")
	}
	if table.Name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if mode != models.ModeOverwrite {
		return fmt.Errorf("%w: %q", models.ErrUnsupportedMode, mode)
	}
	seen := make(map[string]bool, len(partitionBy))
	for _, col := range partitionBy {
		if table.ColumnIndex(col) < 0 {
			return fmt.Errorf("partition column %s not in table %s", col, table.Name)
		}
		if seen[col] {
			return fmt.Errorf("partition column %s listed twice", col)
		}
		seen[col] = true
	}
	if len(partitionBy) == len(table.Columns) && len(partitionBy) > 0 {
		return fmt.Errorf("table %s: cannot partition by every column", table.Name)
	}
	return table.Validate()
}
