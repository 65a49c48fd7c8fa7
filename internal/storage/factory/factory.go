// Package factory builds the configured warehouse backend.
package factory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/fidde/songplay_lake/internal/config"
	"github.com/fidde/songplay_lake/internal/storage"
	"github.com/fidde/songplay_lake/internal/storage/clickhouse"
	"github.com/fidde/songplay_lake/internal/storage/dual"
	"github.com/fidde/songplay_lake/internal/storage/memory"
	"github.com/fidde/songplay_lake/internal/storage/parquet"
	"github.com/fidde/songplay_lake/internal/storage/s3"
	"github.com/fidde/songplay_lake/internal/storage/sqlite"
)

// NewStorage creates the backend named by cfg.Output.Backend, wrapped in a
// dual store when cfg.Output.Mirror is set. s3Client may be nil, in which
// case one is created from cfg.AWS when needed.
func NewStorage(ctx context.Context, cfg *config.Config, s3Client s3iface.S3API, logger *slog.Logger) (storage.Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	primary, err := newBackend(ctx, cfg.Output.Backend, cfg, s3Client, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Output.Mirror == "" {
		return primary, nil
	}

	secondary, err := newBackend(ctx, cfg.Output.Mirror, cfg, s3Client, logger)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("creating mirror: %w", err)
	}

	logger.Info("dual-write enabled",
		"primary", primary.Name(),
		"secondary", secondary.Name(),
	)
	return dual.New(dual.Config{
		Primary:   primary,
		Secondary: secondary,
		Logger:    logger,
	}), nil
}

func newBackend(ctx context.Context, name string, cfg *config.Config, s3Client s3iface.S3API, logger *slog.Logger) (storage.Storage, error) {
	out := cfg.Output

	// A parquet backend pointed at a bucket publishes through S3.
	if name == config.BackendParquet && isS3(out.Path) {
		name = config.BackendS3
	}

	switch name {
	case config.BackendParquet:
		return parquet.New(parquet.Config{
			Root:        out.Path,
			Compression: out.Compression,
			Workers:     workers(cfg),
		}, logger)

	case config.BackendS3:
		if !isS3(out.Path) {
			return nil, fmt.Errorf("s3 backend needs an s3:// output.path, got %q", out.Path)
		}
		if s3Client == nil {
			sess, err := config.NewAWSSession(cfg.AWS, logger)
			if err != nil {
				return nil, err
			}
			s3Client = awss3.New(sess)
		}
		return s3.New(s3.Config{
			URI:         out.Path,
			Compression: out.Compression,
			Workers:     workers(cfg),
		}, s3Client, logger)

	case config.BackendClickHouse:
		ch := clickhouse.DefaultConfig()
		ch.Addr = cfg.ClickHouse.Addr
		ch.Database = cfg.ClickHouse.Database
		ch.Username = cfg.ClickHouse.Username
		ch.Password = cfg.ClickHouse.Password
		if cfg.ClickHouse.BatchSize > 0 {
			ch.BatchSize = cfg.ClickHouse.BatchSize
		}
		if cfg.ClickHouse.MaxRetries > 0 {
			ch.MaxRetries = cfg.ClickHouse.MaxRetries
		}
		return clickhouse.NewStore(ctx, ch, logger)

	case config.BackendSQLite:
		return sqlite.New(sqlite.DefaultConfig(out.SQLitePath))

	case config.BackendMemory:
		return memory.New(), nil
	}

	return nil, fmt.Errorf("unknown storage backend %q", name)
}

func isS3(path string) bool {
	return strings.HasPrefix(path, "s3://") || strings.HasPrefix(path, "s3a://")
}

func workers(cfg *config.Config) int {
	if cfg.Input.Workers > 0 {
		return cfg.Input.Workers
	}
	return 4
}
