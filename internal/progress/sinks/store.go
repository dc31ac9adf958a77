package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/store"
)

// StoreSink persists run history via a store.RunRepository. Counter events
// are collapsed per run so a batch costs one stats write per run.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies lifecycle events in order and flushes accumulated counters
// before a run is completed. Repository errors are returned wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]store.RunStats)
	order := make([]uuid.UUID, 0, 1)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID, evt.Source, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			if err := s.flush(ctx, runID, pending[runID]); err != nil {
				return err
			}
			delete(pending, runID)
			if err := s.complete(ctx, runID, evt); err != nil {
				return err
			}
		default:
			delta, ok := statsDelta(evt.Stage)
			if !ok {
				continue
			}
			cur, seen := pending[runID]
			if !seen {
				order = append(order, runID)
			}
			pending[runID] = cur.Add(delta)
		}
	}

	for _, runID := range order {
		delta, ok := pending[runID]
		if !ok {
			continue
		}
		if err := s.flush(ctx, runID, delta); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) flush(ctx context.Context, runID uuid.UUID, delta store.RunStats) error {
	if delta.IsZero() {
		return nil
	}
	if err := s.repo.AddRunStats(ctx, runID, delta); err != nil {
		return fmt.Errorf("add run stats: %w", err)
	}
	return nil
}

func (s *StoreSink) complete(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	status := store.RunSuccess
	var errMsg *string
	if evt.Stage == progress.StageRunError {
		status = store.RunError
		msg := evt.Message
		errMsg = &msg
	}
	if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, evt.Count, errMsg); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	s.logger.Debug("run recorded",
		zap.String("run_id", runID.String()),
		zap.String("status", string(status)),
	)
	return nil
}

func statsDelta(stage progress.Stage) (store.RunStats, bool) {
	switch stage {
	case progress.StagePage:
		return store.RunStats{Pages: 1}, true
	case progress.StageIdentifier:
		return store.RunStats{Identifiers: 1}, true
	case progress.StageFetchDone:
		return store.RunStats{Fetched: 1}, true
	case progress.StageFetchFailed:
		return store.RunStats{Failed: 1}, true
	case progress.StageRecordSkipped:
		return store.RunStats{Skipped: 1}, true
	default:
		return store.RunStats{}, false
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
