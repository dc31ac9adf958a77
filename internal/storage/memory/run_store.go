package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/catalog-crawler/internal/store"
)

// RunStore keeps crawl run history in memory. It is the default history
// backend when no database DSN is configured.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.Run
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]store.Run)}
}

// StartRun records a running run unless it already exists.
func (s *RunStore) StartRun(_ context.Context, runID uuid.UUID, source string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[runID]; exists {
		return nil
	}
	s.runs[runID] = store.Run{
		ID:        runID,
		Source:    source,
		StartedAt: startedAt,
		Status:    store.RunRunning,
	}
	return nil
}

// AddRunStats accumulates counter deltas.
func (s *RunStore) AddRunStats(_ context.Context, runID uuid.UUID, delta store.RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("add stats to run %s: %w", runID, store.ErrNotFound)
	}
	run.Stats = run.Stats.Add(delta)
	s.runs[runID] = run
	return nil
}

// CompleteRun stores the terminal status.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	exported int64,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("complete run %s: %w", runID, store.ErrNotFound)
	}
	finished := finishedAt
	run.FinishedAt = &finished
	run.Status = status
	run.Exported = exported
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[runID] = run
	return nil
}

// GetRun returns a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset >= len(out) {
		return []store.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
