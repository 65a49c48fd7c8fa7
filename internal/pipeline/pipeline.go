// Package pipeline runs one batch: read both datasets, build the star schema
// and publish the five tables through a storage transaction.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fidde/songplay_lake/internal/source"
	"github.com/fidde/songplay_lake/internal/storage"
	"github.com/fidde/songplay_lake/internal/transform"
	"github.com/fidde/songplay_lake/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Config holds pipeline settings.
type Config struct {
	Workers    int
	IDStrategy string
	Location   *time.Location // nil means time.Local
}

// Pipeline wires a dataset to a warehouse.
type Pipeline struct {
	dataset *source.Dataset
	store   storage.Storage
	ids     transform.IDSource
	loc     *time.Location
	opts    transform.Options
	metrics *Metrics
	logger  *slog.Logger
}

// New creates a pipeline. metrics may be nil.
func New(dataset *source.Dataset, store storage.Storage, cfg Config, metrics *Metrics, logger *slog.Logger) (*Pipeline, error) {
	if dataset == nil || store == nil {
		return nil, fmt.Errorf("dataset and store are required")
	}
	ids, err := transform.NewIDSource(cfg.IDStrategy)
	if err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		dataset: dataset,
		store:   store,
		ids:     ids,
		loc:     cfg.Location,
		opts:    transform.Options{Workers: cfg.Workers},
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Run executes one batch under runID. The returned report is never nil; on
// failure it carries the error text and nothing from this run is published.
func (p *Pipeline) Run(ctx context.Context, runID string) (*models.RunReport, error) {
	report := &models.RunReport{
		ID:      runID,
		Status:  models.RunStatusRunning,
		Backend: p.store.Name(),
		Started: time.Now().UTC(),
	}
	logger := p.logger.With("run_id", runID)
	logger.Info("run started", "backend", report.Backend)

	err := p.run(ctx, runID, report, logger)

	report.Finished = time.Now().UTC()
	if err != nil {
		report.Status = models.RunStatusFailed
		report.Error = err.Error()
		logger.Error("run failed",
			"error", err,
			"duration_ms", report.Duration().Milliseconds(),
		)
	} else {
		report.Status = models.RunStatusSucceeded
		logger.Info("run succeeded",
			"duration_ms", report.Duration().Milliseconds(),
			"songplays", report.Join.FactRows,
			"match_rate", report.Join.MatchRate(),
		)
	}
	p.metrics.observe(report)
	return report, err
}

func (p *Pipeline) run(ctx context.Context, runID string, report *models.RunReport, logger *slog.Logger) error {
	var songs []models.SongRecord
	var events []models.LogEvent

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		songs, err = p.dataset.Songs(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		events, err = p.dataset.Logs(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("inputs read", "song_records", len(songs), "log_events", len(events))

	res, err := transform.Build(ctx, songs, events, p.ids, p.loc, p.opts)
	if err != nil {
		return err
	}
	report.Input = res.Input
	report.Join = res.Join

	if res.Join.UnmatchedEvents > 0 {
		logger.Warn("song plays without a matching song",
			"unmatched", res.Join.UnmatchedEvents,
			"matched", res.Join.MatchedEvents,
		)
	}

	return p.publish(ctx, runID, res.Tables(), report, logger)
}

// publish writes every table in one transaction. Tables are written one
// after another; transactions are not safe for concurrent WriteTable calls.
func (p *Pipeline) publish(ctx context.Context, runID string, tables []*models.Table, report *models.RunReport, logger *slog.Logger) error {
	txn, err := p.store.Begin(ctx, runID)
	if err != nil {
		return fmt.Errorf("%w: starting transaction: %w", models.ErrWrite, err)
	}

	counts := make(map[string]int64, len(tables))
	for _, t := range tables {
		if err := txn.WriteTable(ctx, t, models.PartitionColumns[t.Name], models.ModeOverwrite); err != nil {
			if rerr := txn.Rollback(ctx); rerr != nil {
				logger.Warn("rollback failed", "error", rerr)
			}
			return fmt.Errorf("%w: table %s: %w", models.ErrWrite, t.Name, err)
		}
		counts[t.Name] = int64(t.Len())
		logger.Debug("table staged", "table", t.Name, "rows", t.Len())
	}

	if err := txn.Commit(ctx); err != nil {
		if rerr := txn.Rollback(ctx); rerr != nil {
			logger.Warn("rollback after failed commit", "error", rerr)
		}
		return fmt.Errorf("%w: commit: %w", models.ErrWrite, err)
	}
	report.Tables = counts
	return nil
}
