package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	runID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.StartRun(ctx, runID, "tiki", started))
	require.NoError(t, s.StartRun(ctx, runID, "ignored", started.Add(time.Hour)))
	require.NoError(t, s.AddRunStats(ctx, runID, store.RunStats{Pages: 2, Identifiers: 96}))
	require.NoError(t, s.AddRunStats(ctx, runID, store.RunStats{Fetched: 95, Failed: 1}))

	msg := "boom"
	require.NoError(t, s.CompleteRun(ctx, runID, started.Add(time.Minute), store.RunError, 0, &msg))
	msg = "mutated"

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "tiki", run.Source)
	assert.Equal(t, started, run.StartedAt)
	assert.Equal(t, store.RunError, run.Status)
	assert.Equal(t, store.RunStats{Pages: 2, Identifiers: 96, Fetched: 95, Failed: 1}, run.Stats)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "boom", *run.ErrorMessage)
}

func TestRunStoreUnknownRun(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	_, err := s.GetRun(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.AddRunStats(ctx, uuid.New(), store.RunStats{Pages: 1}), store.ErrNotFound)
	require.ErrorIs(t, s.CompleteRun(ctx, uuid.New(), time.Now(), store.RunSuccess, 0, nil), store.ErrNotFound)
}

func TestRunStoreListRuns(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()
	ids := make([]uuid.UUID, 4)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, s.StartRun(ctx, ids[i], "phongvu", base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, s.CompleteRun(ctx, ids[0], base.Add(time.Hour), store.RunSuccess, 40, nil))

	all, err := s.ListRuns(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[3], all[0].ID, "newest first")

	page, err := s.ListRuns(ctx, nil, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)

	success := store.RunSuccess
	done, err := s.ListRuns(ctx, &success, 10, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, int64(40), done[0].Exported)

	empty, err := s.ListRuns(ctx, nil, 10, 99)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
