// Package s3 publishes the parquet warehouse layout to an S3 bucket.
//
// Tables are staged on local disk by the parquet backend and uploaded on
// Commit. S3 has no rename, so Commit uploads the new run's files first and
// only then deletes the previous run's objects; readers may briefly see both.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/fidde/songplay_lake/internal/source"
	"github.com/fidde/songplay_lake/internal/storage"
	"github.com/fidde/songplay_lake/internal/storage/parquet"
	"github.com/fidde/songplay_lake/pkg/models"
	"golang.org/x/sync/errgroup"
)

// deleteBatch is the S3 DeleteObjects limit.
const deleteBatch = 1000

// Config holds S3 store configuration.
type Config struct {
	URI         string // s3://bucket/prefix
	Compression string
	Workers     int    // Concurrent uploads and partition writers
	TempDir     string // Local staging root; empty means os.TempDir
}

// Store is an S3-backed parquet warehouse.
type Store struct {
	client   s3iface.S3API
	uploader s3manageriface.UploaderAPI
	bucket   string
	prefix   string
	local    *parquet.Store
	tmp      string
	workers  int
	logger   *slog.Logger
}

// New creates a store that uploads through client.
func New(cfg Config, client s3iface.S3API, logger *slog.Logger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client cannot be nil")
	}
	return NewWithUploader(cfg, client, s3manager.NewUploaderWithClient(client), logger)
}

// NewWithUploader is New with an explicit uploader.
func NewWithUploader(cfg Config, client s3iface.S3API, uploader s3manageriface.UploaderAPI, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bucket, prefix, err := source.SplitS3URI(cfg.URI)
	if err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	tmp, err := os.MkdirTemp(cfg.TempDir, "songplay-s3-")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	local, err := parquet.New(parquet.Config{
		Root:        tmp,
		Compression: cfg.Compression,
		Workers:     cfg.Workers,
	}, logger)
	if err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}

	return &Store{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		local:    local,
		tmp:      tmp,
		workers:  cfg.Workers,
		logger:   logger,
	}, nil
}

// Name implements storage.Storage.
func (s *Store) Name() string {
	return "s3"
}

// Begin implements storage.Storage.
func (s *Store) Begin(ctx context.Context, runID string) (storage.Txn, error) {
	txn, err := s.local.BeginLocal(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &Txn{
		store:  s,
		local:  txn,
		runID:  runID,
		logger: s.logger.With("run_id", runID),
	}, nil
}

// Close removes the local staging root.
func (s *Store) Close() error {
	return os.RemoveAll(s.tmp)
}

func (s *Store) key(parts ...string) string {
	return path.Join(append([]string{s.prefix}, parts...)...)
}

// Txn is a staged run against a Store.
type Txn struct {
	store  *Store
	local  *parquet.Txn
	runID  string
	logger *slog.Logger
	done   bool
}

// WriteTable stages table on local disk.
func (t *Txn) WriteTable(ctx context.Context, table *models.Table, partitionBy []string, mode models.WriteMode) error {
	return t.local.WriteTable(ctx, table, partitionBy, mode)
}

// Commit uploads the staged tables, removes the objects of the previous run
// and writes the run manifest.
func (t *Txn) Commit(ctx context.Context) error {
	if t.done {
		return parquet.ErrTxnDone
	}
	t.done = true
	defer t.local.Rollback(ctx)

	s := t.store
	staged := t.local.Staged()

	// Snapshot what is live now, before anything is uploaded.
	old := make(map[string][]string, len(staged))
	existed := make(map[string]bool)
	for _, tm := range staged {
		keys, err := s.list(ctx, s.key(tm.Dir)+"/")
		if err != nil {
			return fmt.Errorf("listing %s: %w", tm.Dir, err)
		}
		old[tm.Name] = keys
		for _, k := range keys {
			existed[k] = true
		}
	}

	// Data files of every table go up before any success marker, so a failed
	// run never leaves a marker next to a partial table.
	var uploaded []string
	abort := func(table string, err error) error {
		t.logger.Error("upload failed, removing partial upload", "table", table, "error", err)
		var partial []string
		for _, k := range uploaded {
			if !existed[k] {
				partial = append(partial, k)
			}
		}
		if derr := s.delete(ctx, partial); derr != nil {
			t.logger.Warn("failed to remove partial upload", "error", derr)
		}
		return fmt.Errorf("uploading %s: %w", table, err)
	}
	for _, tm := range staged {
		keys, err := t.uploadTable(ctx, tm)
		uploaded = append(uploaded, keys...)
		if err != nil {
			return abort(tm.Name, err)
		}
	}
	for _, tm := range staged {
		marker := s.key(tm.Dir, parquet.SuccessMarker)
		if err := s.put(ctx, marker, bytes.NewReader(nil)); err != nil {
			return abort(tm.Name, err)
		}
		uploaded = append(uploaded, marker)
	}

	keep := make(map[string]bool, len(uploaded))
	for _, k := range uploaded {
		keep[k] = true
	}
	var stale []string
	for _, keys := range old {
		for _, k := range keys {
			if !keep[k] {
				stale = append(stale, k)
			}
		}
	}
	if err := s.delete(ctx, stale); err != nil {
		return fmt.Errorf("removing previous run: %w", err)
	}

	manifest := &parquet.Manifest{
		RunID:       t.runID,
		PublishedAt: time.Now().UTC(),
		Compression: s.local.Compression(),
		Tables:      staged,
	}
	data, err := manifest.Marshal()
	if err != nil {
		return err
	}
	if err := s.put(ctx, s.key(parquet.ManifestFile), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	t.logger.Info("run published",
		"bucket", s.bucket,
		"prefix", s.prefix,
		"tables", len(staged),
		"objects", len(uploaded),
		"removed", len(stale),
	)
	return nil
}

// uploadTable uploads the data files of one table, returning the keys
// written even when it fails part way.
func (t *Txn) uploadTable(ctx context.Context, tm parquet.TableManifest) ([]string, error) {
	s := t.store
	dir := filepath.Join(t.local.StagingDir(), tm.Dir)

	keys := make([]string, len(tm.Files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, rel := range tm.Files {
		g.Go(func() error {
			f, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			defer f.Close()

			key := s.key(tm.Dir, rel)
			if err := s.put(gctx, key, f); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			keys[i] = key
			return nil
		})
	}
	err := g.Wait()

	written := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			written = append(written, k)
		}
	}
	return written, err
}

func (s *Store) put(ctx context.Context, key string, body io.Reader) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	return err
}

func (s *Store) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *awss3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	return keys, err
}

func (s *Store) delete(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := start + deleteBatch
		if end > len(keys) {
			end = len(keys)
		}
		objects := make([]*awss3.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, &awss3.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.client.DeleteObjectsWithContext(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &awss3.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return err
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return errors.New(aws.StringValue(e.Key) + ": " + aws.StringValue(e.Message))
		}
	}
	return nil
}

// Rollback discards the local staging area.
func (t *Txn) Rollback(ctx context.Context) error {
	t.done = true
	return t.local.Rollback(ctx)
}
