package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/batch-progress/internal/store"
)

func newRun(started time.Time) store.RunRecord {
	return store.RunRecord{
		ID:        uuid.New(),
		Label:     "running",
		Total:     10,
		Status:    store.RunRunning,
		StartedAt: started,
		UpdatedAt: started,
	}
}

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	start := time.Unix(1700000000, 0).UTC()
	run := newRun(start)

	require.NoError(t, s.CreateRun(ctx, run))
	require.Error(t, s.CreateRun(ctx, run))

	require.NoError(t, s.RecordSnapshot(ctx, run.ID, store.Snapshot{
		Label: "running", Processed: 4, Succeeded: 3, Failed: 1, Status: store.RunRunning, At: start.Add(5 * time.Second),
	}))
	// Older snapshot is ignored.
	require.NoError(t, s.RecordSnapshot(ctx, run.ID, store.Snapshot{
		Label: "running", Processed: 2, Status: store.RunRunning, At: start.Add(time.Second),
	}))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, 4, got.Processed)
	require.Equal(t, 1, got.Failed)

	uri := "memory://report.json"
	finished := start.Add(time.Minute)
	require.NoError(t, s.CompleteRun(ctx, run.ID, "done with failures", finished, &uri))

	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, store.RunDone, got.Status)
	require.Equal(t, "done with failures", got.Label)
	require.Equal(t, finished, *got.FinishedAt)
	require.Equal(t, uri, *got.ReportURI)

	*got.ReportURI = "mutated"
	again, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, uri, *again.ReportURI)
}

func TestRunStoreNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	id := uuid.New()

	_, err := s.GetRun(ctx, id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.RecordSnapshot(ctx, id, store.Snapshot{}), store.ErrNotFound)
	require.ErrorIs(t, s.CompleteRun(ctx, id, "done", time.Now(), nil), store.ErrNotFound)
}

func TestRunStoreListRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	base := time.Unix(1700000000, 0).UTC()
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		run := newRun(base.Add(time.Duration(i) * time.Minute))
		ids = append(ids, run.ID)
		require.NoError(t, s.CreateRun(ctx, run))
	}
	require.NoError(t, s.CompleteRun(ctx, ids[0], "done", base.Add(time.Hour), nil))

	all, err := s.ListRuns(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.Equal(t, ids[4], all[0].ID)

	running := store.RunRunning
	page, err := s.ListRuns(ctx, &running, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[3], page[0].ID)
	require.Equal(t, ids[2], page[1].ID)

	done := store.RunDone
	finished, err := s.ListRuns(ctx, &done, 10, 0)
	require.NoError(t, err)
	require.Len(t, finished, 1)

	empty, err := s.ListRuns(ctx, nil, 10, 50)
	require.NoError(t, err)
	require.Empty(t, empty)
}
