// Package parquet writes the warehouse as Hive-style partitioned Parquet
// files on the local filesystem.
//
// A run stages every table under <root>/.staging/<run>/ and Commit moves each
// table directory into place with a rename, so a table is either the previous
// run's output or the new one, never a mix.
package parquet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fidde/songplay_lake/internal/storage"
	"github.com/fidde/songplay_lake/pkg/models"
	"github.com/xitongsys/parquet-go-source/local"
	pq "github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"golang.org/x/sync/errgroup"
)

// ErrTxnDone is returned when a finished transaction is used.
var ErrTxnDone = errors.New("transaction already committed or rolled back")

// Config holds parquet store configuration.
type Config struct {
	Root        string
	Compression string // snappy, gzip, zstd or none
	Workers     int    // Partition files written concurrently
}

// DefaultConfig returns default parquet configuration.
func DefaultConfig(root string) Config {
	return Config{
		Root:        root,
		Compression: "snappy",
		Workers:     4,
	}
}

// Store is a parquet warehouse rooted at a directory.
type Store struct {
	root        string
	compression pq.CompressionCodec
	codecName   string
	workers     int
	logger      *slog.Logger
	mu          sync.Mutex // serialises commits
}

// New creates the root directory if needed.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("parquet root cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}

	return &Store{
		root:        cfg.Root,
		compression: codec,
		codecName:   strings.ToLower(codec.String()),
		workers:     cfg.Workers,
		logger:      logger,
	}, nil
}

func parseCompression(name string) (pq.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return pq.CompressionCodec_SNAPPY, nil
	case "gzip":
		return pq.CompressionCodec_GZIP, nil
	case "zstd":
		return pq.CompressionCodec_ZSTD, nil
	case "none", "uncompressed":
		return pq.CompressionCodec_UNCOMPRESSED, nil
	}
	return 0, fmt.Errorf("unknown parquet compression %q", name)
}

// Name implements storage.Storage.
func (s *Store) Name() string {
	return "parquet"
}

// Root returns the directory the store publishes into.
func (s *Store) Root() string {
	return s.root
}

// Compression returns the codec name used for data files.
func (s *Store) Compression() string {
	return s.codecName
}

// Begin implements storage.Storage.
func (s *Store) Begin(ctx context.Context, runID string) (storage.Txn, error) {
	return s.BeginLocal(ctx, runID)
}

// BeginLocal is Begin returning the concrete transaction type.
func (s *Store) BeginLocal(ctx context.Context, runID string) (*Txn, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}
	dir := filepath.Join(s.root, stagingDir, runID)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clearing staging directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &Txn{
		store:   s,
		runID:   runID,
		staging: dir,
		staged:  make(map[string]*TableManifest),
		logger:  s.logger.With("run_id", runID),
	}, nil
}

// Close implements storage.Storage.
func (s *Store) Close() error {
	return nil
}

// Txn is a staged run against a Store.
type Txn struct {
	store   *Store
	runID   string
	staging string
	logger  *slog.Logger

	mu     sync.Mutex
	staged map[string]*TableManifest
	done   bool
}

// StagingDir is where the transaction writes before Commit.
func (t *Txn) StagingDir() string {
	return t.staging
}

// WriteTable writes one parquet file per partition into the staging area.
func (t *Txn) WriteTable(ctx context.Context, table *models.Table, partitionBy []string, mode models.WriteMode) error {
	if err := storage.ValidateWrite(table, partitionBy, mode); err != nil {
		return err
	}

	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return ErrTxnDone
	}
	t.mu.Unlock()

	dir := filepath.Join(t.staging, TableDir(table.Name))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	md, dataIdx := schemaFor(table, partitionBy)
	groups, order := groupByPartition(table, partitionBy)

	files := make([]string, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.store.workers)
	for i, part := range order {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rel := filepath.ToSlash(filepath.Join(part, fmt.Sprintf("part-%05d-%s.%s.parquet", i, t.runID, t.store.codecName)))
			if err := t.writeFile(filepath.Join(dir, filepath.FromSlash(rel)), md, dataIdx, groups[part]); err != nil {
				return fmt.Errorf("table %s partition %q: %w", table.Name, part, err)
			}
			files[i] = rel
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, SuccessMarker), nil, 0644); err != nil {
		return fmt.Errorf("writing success marker: %w", err)
	}

	t.mu.Lock()
	t.staged[table.Name] = &TableManifest{
		Name:        table.Name,
		Dir:         TableDir(table.Name),
		PartitionBy: append([]string(nil), partitionBy...),
		Rows:        len(table.Rows),
		Files:       files,
	}
	t.mu.Unlock()

	t.logger.Debug("staged table",
		"table", table.Name,
		"rows", len(table.Rows),
		"files", len(files),
	)
	return nil
}

// groupByPartition buckets rows by partition directory. The returned order is
// sorted so file numbering is stable across runs.
func groupByPartition(t *models.Table, partitionBy []string) (map[string][]models.Row, []string) {
	groups := make(map[string][]models.Row)
	if len(partitionBy) == 0 {
		groups[""] = t.Rows
		return groups, []string{""}
	}

	idx := make([]int, len(partitionBy))
	for i, c := range partitionBy {
		idx[i] = t.ColumnIndex(c)
	}
	values := make([]any, len(partitionBy))
	for _, row := range t.Rows {
		for i, j := range idx {
			values[i] = row[j]
		}
		key := partitionPath(partitionBy, values)
		groups[key] = append(groups[key], row)
	}

	order := make([]string, 0, len(groups))
	for k := range groups {
		order = append(order, k)
	}
	sort.Strings(order)
	return groups, order
}

func (t *Txn) writeFile(path string, md []string, dataIdx []int, rows []models.Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	pw, err := writer.NewCSVWriter(md, fw, 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("creating parquet writer: %w", err)
	}
	pw.CompressionType = t.store.compression

	rec := make([]interface{}, len(dataIdx))
	for _, row := range rows {
		for i, j := range dataIdx {
			rec[i] = parquetValue(row[j])
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("writing row: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("finishing parquet file: %w", err)
	}
	return fw.Close()
}

// Staged returns the manifest entries of the tables written so far, sorted
// by table name.
func (t *Txn) Staged() []TableManifest {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TableManifest, 0, len(t.staged))
	for _, tm := range t.staged {
		out = append(out, *tm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Commit moves each staged table directory over the published one and then
// rewrites the run manifest.
func (t *Txn) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxnDone
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	trash := filepath.Join(s.root, trashDir, t.runID)
	if err := os.MkdirAll(trash, 0755); err != nil {
		return fmt.Errorf("creating trash directory: %w", err)
	}
	defer os.RemoveAll(filepath.Join(s.root, trashDir, t.runID))
	defer os.RemoveAll(t.staging)

	names := make([]string, 0, len(t.staged))
	for name := range t.staged {
		names = append(names, name)
	}
	sort.Strings(names)

	manifest := &Manifest{
		RunID:       t.runID,
		PublishedAt: time.Now().UTC(),
		Compression: s.codecName,
	}
	for i, name := range names {
		dir := TableDir(name)
		live := filepath.Join(s.root, dir)

		if _, err := os.Stat(live); err == nil {
			if err := os.Rename(live, filepath.Join(trash, dir)); err != nil {
				return t.partial(i, names, fmt.Errorf("retiring %s: %w", dir, err))
			}
		}
		if err := os.Rename(filepath.Join(t.staging, dir), live); err != nil {
			// Put the previous output back so the table is not left missing.
			os.Rename(filepath.Join(trash, dir), live)
			return t.partial(i, names, fmt.Errorf("publishing %s: %w", dir, err))
		}
		manifest.Tables = append(manifest.Tables, *t.staged[name])
	}

	if err := writeManifest(s.root, manifest); err != nil {
		return err
	}

	t.logger.Info("run published",
		"root", s.root,
		"tables", len(names),
	)
	return nil
}

func (t *Txn) partial(i int, names []string, err error) error {
	if i > 0 {
		t.logger.Error("partial publish",
			"published", names[:i],
			"pending", names[i:],
			"error", err,
		)
	}
	return err
}

// Rollback deletes the staging area.
func (t *Txn) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.staged = nil
	if err := os.RemoveAll(t.staging); err != nil {
		return fmt.Errorf("removing staging directory: %w", err)
	}
	return nil
}
