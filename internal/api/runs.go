package api

import (
	"errors"
	"net/http"

	"github.com/fidde/songplay_lake/internal/pipeline"
	"github.com/fidde/songplay_lake/pkg/models"
	"github.com/go-chi/chi/v5"
)

// StartRunResponse is returned when a run is accepted.
type StartRunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// startRun triggers a run in the background.
// POST /api/v1/runs
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	id, err := s.runner.Start(s.runCtx)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Location", "/api/v1/runs/"+id)
	s.respondJSON(w, http.StatusAccepted, StartRunResponse{
		ID:     id,
		Status: models.RunStatusRunning,
	})
}

// listRuns returns run reports, newest first.
// Supports pagination via ?limit=N&offset=M and filtering via ?status=.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.history.List(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := runs[:0]
		for _, run := range runs {
			if run.Status == status {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}

	s.respondJSON(w, http.StatusOK, paginateSlice(runs, parsePaginationParams(r)))
}

// currentRun returns the active run, or 404 when idle.
// GET /api/v1/runs/current
func (s *Server) currentRun(w http.ResponseWriter, r *http.Request) {
	cur := s.runner.Current()
	if cur == nil {
		s.respondError(w, http.StatusNotFound, "no run in progress")
		return
	}
	s.respondJSON(w, http.StatusOK, cur)
}

// getRun returns one run report.
// GET /api/v1/runs/{id}
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.history.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondRunError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// deleteRun removes a run report from history.
// DELETE /api/v1/runs/{id}
func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if cur := s.runner.Current(); cur != nil && cur.ID == id {
		s.respondError(w, http.StatusConflict, "run is still in progress")
		return
	}
	if err := s.history.Delete(r.Context(), id); err != nil {
		s.respondRunError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidRunID):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrRunNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
