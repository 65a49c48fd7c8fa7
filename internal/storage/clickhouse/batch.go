package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/fidde/songplay_lake/pkg/models"
)

const (
	maxRetries     = 3
	insertTimeout  = 60 * time.Second
	initialBackoff = 100 * time.Millisecond
)

// insertTable writes the rows of t into the named table in blocks of
// batchSize rows. Each block is retried independently.
func insertTable(ctx context.Context, conn driver.Conn, name string, t *models.Table, batchSize int, logger *slog.Logger) error {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	for start := 0; start < len(t.Rows); start += batchSize {
		end := start + batchSize
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		rows := t.Rows[start:end]

		began := time.Now()
		err := retryInsert(ctx, func(ctx context.Context) error {
			batch, err := conn.PrepareBatch(ctx, "INSERT INTO "+quote(name))
			if err != nil {
				return err
			}
			for _, row := range rows {
				if err := batch.Append(row...); err != nil {
					batch.Abort()
					return err
				}
			}
			return batch.Send()
		})
		if err != nil {
			logger.Error("failed to insert block",
				"table", name,
				"error", err,
				"row_count", len(rows),
			)
			return err
		}

		logger.Debug("inserted block",
			"table", name,
			"row_count", len(rows),
			"duration_ms", time.Since(began).Milliseconds(),
		)
	}
	return nil
}

// retryInsert retries an insert with exponential backoff
func retryInsert(ctx context.Context, fn func(context.Context) error) error {
	var err error
	retryDelay := initialBackoff

	for attempt := 1; attempt <= maxRetries; attempt++ {
		insertCtx, cancel := context.WithTimeout(ctx, insertTimeout)
		err = fn(insertCtx)
		cancel()

		if err == nil {
			return nil
		}

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
				retryDelay *= 2
			}
		}
	}

	return fmt.Errorf("insert failed after %d attempts: %w", maxRetries, err)
}
