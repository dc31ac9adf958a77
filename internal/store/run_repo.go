package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("crawl run not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// ParseRunStatus validates a status filter coming from user input.
func ParseRunStatus(raw string) (RunStatus, error) {
	switch s := RunStatus(raw); s {
	case RunRunning, RunSuccess, RunError:
		return s, nil
	default:
		return "", errors.New("status must be running, success, or error")
	}
}

// RunStats holds the per-run counters accumulated from progress events.
type RunStats struct {
	Pages       int64 `json:"pages"`
	Identifiers int64 `json:"identifiers"`
	Fetched     int64 `json:"fetched"`
	Failed      int64 `json:"failed"`
	Skipped     int64 `json:"skipped"`
}

// IsZero reports whether no counter moved.
func (s RunStats) IsZero() bool {
	return s == RunStats{}
}

// Add returns the element-wise sum of s and d.
func (s RunStats) Add(d RunStats) RunStats {
	return RunStats{
		Pages:       s.Pages + d.Pages,
		Identifiers: s.Identifiers + d.Identifiers,
		Fetched:     s.Fetched + d.Fetched,
		Failed:      s.Failed + d.Failed,
		Skipped:     s.Skipped + d.Skipped,
	}
}

// Run models one pipeline execution for API responses.
type Run struct {
	ID         uuid.UUID
	Source     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Stats      RunStats
	// Exported counts rows written to the export artifact.
	Exported     int64
	ErrorMessage *string
}

// RunRepository persists crawl run history.
type RunRepository interface {
	// StartRun records a run as running. Repeated calls are idempotent.
	StartRun(ctx context.Context, runID uuid.UUID, source string, startedAt time.Time) error
	// AddRunStats applies counter deltas to a run.
	AddRunStats(ctx context.Context, runID uuid.UUID, delta RunStats) error
	// CompleteRun marks the run finished with the final status.
	CompleteRun(
		ctx context.Context,
		runID uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		exported int64,
		errMsg *string,
	) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
