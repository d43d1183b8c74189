package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunError:
		return true
	}
	return false
}

// RunCounts tallies outcomes for a run. It is used both as a running total
// and as a delta applied by AddCounts.
type RunCounts struct {
	Listed    int64 `json:"listed"`
	Dropped   int64 `json:"dropped"`
	Rejected  int64 `json:"rejected"`
	Persisted int64 `json:"persisted"`
	Failed    int64 `json:"failed"`
	Pages     int64 `json:"pages"`
	Bytes     int64 `json:"bytes"`
}

// IsZero reports whether every counter is zero.
func (c RunCounts) IsZero() bool {
	return c == RunCounts{}
}

// Run models one row of crawl_runs.
type Run struct {
	ID         string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	// ErrorMessage is set when the run ended with RunError.
	ErrorMessage *string   `json:"error_message,omitempty"`
	Counts       RunCounts `json:"counts"`
}

// RunReader loads persisted runs.
type RunReader interface {
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID string) (Run, error)
	// ListRuns returns runs newest first, filtered by an optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}

// RunRepository persists run lifecycle and outcome counters.
type RunRepository interface {
	RunReader
	// StartRun inserts the run as running. Repeated calls are no-ops.
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	// CompleteRun marks the run finished with status and an optional error.
	CompleteRun(ctx context.Context, runID string, finishedAt time.Time, status RunStatus, errMsg *string) error
	// AddCounts adds delta to the run's counters, creating the row if needed.
	AddCounts(ctx context.Context, runID string, delta RunCounts, at time.Time) error
}
