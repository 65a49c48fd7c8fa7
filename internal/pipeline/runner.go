package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/fidde/songplay_lake/internal/runlog"
	"github.com/fidde/songplay_lake/pkg/models"
)

// ErrRunInProgress is returned when a run is requested while another one is
// still active.
var ErrRunInProgress = errors.New("a run is already in progress")

// Executor runs one batch.
type Executor interface {
	Run(ctx context.Context, runID string) (*models.RunReport, error)
}

// Runner serialises runs against one warehouse and records their reports.
type Runner struct {
	exec    Executor
	history *runlog.Store // optional
	logger  *slog.Logger

	mu      sync.Mutex
	current *models.RunReport
	wg      sync.WaitGroup
}

// NewRunner creates a runner. history may be nil.
func NewRunner(exec Executor, history *runlog.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		exec:    exec,
		history: history,
		logger:  logger,
	}
}

// acquire marks a run as active.
func (r *Runner) acquire(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return ErrRunInProgress
	}
	r.current = &models.RunReport{ID: runID, Status: models.RunStatusRunning}
	return nil
}

func (r *Runner) release() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}

// Run executes a batch synchronously.
func (r *Runner) Run(ctx context.Context) (*models.RunReport, error) {
	runID := models.NewRunID()
	if err := r.acquire(runID); err != nil {
		return nil, err
	}
	defer r.release()

	return r.execute(ctx, runID)
}

// Start launches a batch in the background and returns its id. ctx bounds
// the run, so callers pass a long-lived context rather than a request's.
func (r *Runner) Start(ctx context.Context) (string, error) {
	runID := models.NewRunID()
	if err := r.acquire(runID); err != nil {
		return "", err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release()
		r.execute(ctx, runID)
	}()
	return runID, nil
}

func (r *Runner) execute(ctx context.Context, runID string) (*models.RunReport, error) {
	r.save(ctx, &models.RunReport{ID: runID, Status: models.RunStatusRunning})

	report, err := r.exec.Run(ctx, runID)
	if report == nil {
		report = &models.RunReport{ID: runID, Status: models.RunStatusFailed}
		if err != nil {
			report.Error = err.Error()
		}
	}
	r.save(context.WithoutCancel(ctx), report)
	return report, err
}

func (r *Runner) save(ctx context.Context, report *models.RunReport) {
	r.mu.Lock()
	if r.current != nil && r.current.ID == report.ID {
		r.current = report
	}
	r.mu.Unlock()

	if r.history == nil {
		return
	}
	if err := r.history.Save(ctx, report); err != nil {
		r.logger.Warn("failed to save run report", "run_id", report.ID, "error", err)
	}
}

// Current returns a copy of the active run's report, or nil when idle.
func (r *Runner) Current() *models.RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil
	}
	cp := *r.current
	return &cp
}

// Wait blocks until background runs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
