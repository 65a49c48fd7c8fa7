// Package runlog keeps the history of pipeline runs as gzip-compressed JSON
// reports in a directory.
package runlog

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fidde/songplay_lake/pkg/models"
)

// Default configuration values
const (
	DefaultDir       = "./data/runs"
	DefaultMaxRuns   = 50
	ReportExtension  = ".json.gz"
	maxReportSizeMiB = 16
)

// Config contains run history configuration.
type Config struct {
	// Dir is the directory where reports are stored
	Dir string

	// MaxRuns is the number of reports kept; older ones are pruned on Save
	MaxRuns int
}

// DefaultConfig returns the default run history configuration.
func DefaultConfig() Config {
	return Config{
		Dir:     DefaultDir,
		MaxRuns: DefaultMaxRuns,
	}
}

// Store is a file-based run history.
type Store struct {
	config Config
	logger *slog.Logger
	mu     sync.RWMutex
}

// New creates the report directory if needed.
func New(config Config, logger *slog.Logger) (*Store, error) {
	if config.Dir == "" {
		config.Dir = DefaultDir
	}
	if config.MaxRuns <= 0 {
		config.MaxRuns = DefaultMaxRuns
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	return &Store{
		config: config,
		logger: logger,
	}, nil
}

// Save writes a report, replacing any earlier report with the same id, and
// prunes the oldest reports beyond MaxRuns.
func (s *Store) Save(ctx context.Context, report *models.RunReport) error {
	if report == nil {
		return errors.New("report cannot be nil")
	}
	if err := models.ValidateRunID(report.ID); err != nil {
		return err
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeGzip(s.reportPath(report.ID), data); err != nil {
		return fmt.Errorf("writing report file: %w", err)
	}

	return s.pruneLocked()
}

// Load reads the report of one run.
func (s *Store) Load(ctx context.Context, id string) (*models.RunReport, error) {
	if err := models.ValidateRunID(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadLocked(s.reportPath(id))
}

// Delete removes the report of one run.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := models.ValidateRunID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.reportPath(id))
	if os.IsNotExist(err) {
		return models.ErrRunNotFound
	}
	if err != nil {
		return fmt.Errorf("removing report file: %w", err)
	}
	return nil
}

// List returns all reports, newest first.
func (s *Store) List(ctx context.Context) ([]*models.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listLocked()
}

// Latest returns the most recently started run.
func (s *Store) Latest(ctx context.Context) (*models.RunReport, error) {
	runs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, models.ErrRunNotFound
	}
	return runs[0], nil
}

// reportPath returns the file path for a run.
func (s *Store) reportPath(id string) string {
	return filepath.Join(s.config.Dir, id+ReportExtension)
}

func (s *Store) loadLocked(path string) (*models.RunReport, error) {
	data, err := s.readGzip(path)
	if os.IsNotExist(err) {
		return nil, models.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading report file: %w", err)
	}

	var report models.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("unmarshaling report: %w", err)
	}
	return &report, nil
}

// listLocked loads every report in the directory (must hold lock).
func (s *Store) listLocked() ([]*models.RunReport, error) {
	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading run directory: %w", err)
	}

	var reports []*models.RunReport
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ReportExtension) {
			continue
		}
		if models.ValidateRunID(strings.TrimSuffix(name, ReportExtension)) != nil {
			continue
		}

		report, err := s.loadLocked(filepath.Join(s.config.Dir, name))
		if err != nil {
			s.logger.Warn("skipping unreadable run report", "file", name, "error", err)
			continue
		}
		reports = append(reports, report)
	}

	// Newest first; id breaks ties so the order is stable.
	sort.Slice(reports, func(i, j int) bool {
		if !reports[i].Started.Equal(reports[j].Started) {
			return reports[i].Started.After(reports[j].Started)
		}
		return reports[i].ID > reports[j].ID
	})

	return reports, nil
}

// pruneLocked deletes the oldest reports beyond MaxRuns (must hold lock).
func (s *Store) pruneLocked() error {
	reports, err := s.listLocked()
	if err != nil {
		return err
	}
	for _, r := range reports[min(len(reports), s.config.MaxRuns):] {
		if err := os.Remove(s.reportPath(r.ID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("pruning report %s: %w", r.ID, err)
		}
		s.logger.Debug("pruned run report", "run_id", r.ID)
	}
	return nil
}

// writeGzip writes data to a gzip-compressed file via a temp file.
func (s *Store) writeGzip(path string, data []byte) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	defer file.Close()

	gw := gzip.NewWriter(file)
	if _, err := gw.Write(data); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// readGzip reads data from a gzip-compressed file.
func (s *Store) readGzip(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(io.LimitReader(gr, maxReportSizeMiB<<20))
}
