// Package app assembles the pipeline, its warehouse and run history from
// configuration. Both binaries share it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/fidde/songplay_lake/internal/config"
	"github.com/fidde/songplay_lake/internal/pipeline"
	"github.com/fidde/songplay_lake/internal/runlog"
	"github.com/fidde/songplay_lake/internal/source"
	"github.com/fidde/songplay_lake/internal/storage"
	"github.com/fidde/songplay_lake/internal/storage/factory"
	"github.com/prometheus/client_golang/prometheus"
)

// App holds the long-lived components of a process.
type App struct {
	Config   *config.Config
	Store    storage.Storage
	Pipeline *pipeline.Pipeline
	Runner   *pipeline.Runner
	History  *runlog.Store
	Metrics  *pipeline.Metrics
	Logger   *slog.Logger
}

// New wires every component. registerer receives the pipeline metrics; nil
// means the default registerer.
func New(ctx context.Context, cfg *config.Config, registerer prometheus.Registerer, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var s3Client s3iface.S3API
	if needsS3(cfg) {
		sess, err := config.NewAWSSession(cfg.AWS, logger)
		if err != nil {
			return nil, err
		}
		s3Client = awss3.New(sess)
	}

	songs, err := source.Open(cfg.Input.SongData, s3Client)
	if err != nil {
		return nil, fmt.Errorf("song data: %w", err)
	}
	logs, err := source.Open(cfg.Input.LogData, s3Client)
	if err != nil {
		return nil, fmt.Errorf("log data: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	history, err := runlog.New(runlog.Config{Dir: cfg.RunLog.Dir, MaxRuns: cfg.RunLog.MaxRuns}, logger)
	if err != nil {
		return nil, err
	}

	store, err := factory.NewStorage(ctx, cfg, s3Client, logger)
	if err != nil {
		return nil, err
	}

	metrics := pipeline.NewMetrics(registerer)
	p, err := pipeline.New(&source.Dataset{
		SongReader: songs,
		LogReader:  logs,
		Workers:    cfg.Input.Workers,
	}, store, pipeline.Config{
		Workers:    cfg.Pipeline.Workers,
		IDStrategy: cfg.Pipeline.IDStrategy,
		Location:   loc,
	}, metrics, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	logger.Info("pipeline configured",
		"song_data", songs.String(),
		"log_data", logs.String(),
		"backend", store.Name(),
		"workers", cfg.Pipeline.Workers,
		"id_strategy", cfg.Pipeline.IDStrategy,
		"timezone", loc.String(),
	)

	return &App{
		Config:   cfg,
		Store:    store,
		Pipeline: p,
		Runner:   pipeline.NewRunner(p, history, logger),
		History:  history,
		Metrics:  metrics,
		Logger:   logger,
	}, nil
}

// Close releases the warehouse connection.
func (a *App) Close() error {
	return a.Store.Close()
}

func needsS3(cfg *config.Config) bool {
	for _, loc := range []string{cfg.Input.SongData, cfg.Input.LogData, cfg.Output.Path} {
		if strings.HasPrefix(loc, "s3://") || strings.HasPrefix(loc, "s3a://") {
			return true
		}
	}
	return cfg.Output.Backend == config.BackendS3 || cfg.Output.Mirror == config.BackendS3
}
