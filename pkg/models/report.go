package models

import (
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// JoinStats summarizes the log/song equi-join of one run.
type JoinStats struct {
	MatchedEvents   int64 `json:"matched_events"`
	UnmatchedEvents int64 `json:"unmatched_events"`
	FactRows        int64 `json:"fact_rows"`
}

// MatchRate returns the share of song plays that matched a song record.
func (s JoinStats) MatchRate() float64 {
	total := s.MatchedEvents + s.UnmatchedEvents
	if total == 0 {
		return 0
	}
	return float64(s.MatchedEvents) / float64(total)
}

// InputStats counts the records read and kept by the preprocessor.
type InputStats struct {
	SongRecords int64 `json:"song_records"`
	LogEvents   int64 `json:"log_events"`
	SongPlays   int64 `json:"song_plays"`
}

// RunReport is the outcome of one pipeline run.
type RunReport struct {
	ID       string           `json:"id"`
	Status   string           `json:"status"`
	Backend  string           `json:"backend,omitempty"`
	Started  time.Time        `json:"started"`
	Finished time.Time        `json:"finished,omitempty"`
	Input    InputStats       `json:"input"`
	Join     JoinStats        `json:"join"`
	Tables   map[string]int64 `json:"tables,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Duration returns the wall time of a finished run.
func (r *RunReport) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// ValidateRunID checks that id is a UUID.
func ValidateRunID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidRunID
	}
	return nil
}
