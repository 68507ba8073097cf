package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CommunityArchive/internal/domain"
	"CommunityArchive/internal/ports"
)

func openJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := OpenSQLiteJournal(filepath.Join(t.TempDir(), "state", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalRunLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := openJournal(t)
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	run := ports.RunInfo{ID: "run-1", Command: "fetch", StartedAt: started, Output: "communities.csv"}
	require.NoError(t, j.BeginRun(ctx, run))

	outcomes := []ports.Outcome{
		{RunID: "run-1", Request: domain.NewSnapshotRequest("community/123", ""), ResolvedTimestamp: "20080315120000", Status: 200, Attempts: 1, Records: 1},
		{RunID: "run-1", Request: domain.NewSnapshotRequest("community/404missing", ""), Kind: domain.KindNotArchived, Status: 404, Attempts: 1, Message: "not archived"},
		{RunID: "run-1", Request: domain.NewSnapshotRequest("community/500", ""), Kind: domain.KindNetworkTransient, Status: 503, Attempts: 4},
		{RunID: "run-1", Request: domain.NewSnapshotRequest("community/501", ""), Kind: domain.KindNetworkTransient, Status: 502, Attempts: 4},
	}
	for _, o := range outcomes {
		require.NoError(t, j.RecordOutcome(ctx, o))
	}

	run.FinishedAt = started.Add(time.Minute)
	run.Requests, run.Succeeded, run.Failed, run.Records = 4, 1, 3, 1
	require.NoError(t, j.FinishRun(ctx, run))

	runs, err := j.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "fetch", runs[0].Command)
	assert.Equal(t, 4, runs[0].Requests)
	assert.Equal(t, 3, runs[0].Failed)
	assert.True(t, runs[0].StartedAt.Equal(started))
	assert.True(t, runs[0].FinishedAt.Equal(started.Add(time.Minute)))

	counts, err := j.KindCounts(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, map[domain.FailureKind]int{
		domain.KindNotArchived:      1,
		domain.KindNetworkTransient: 2,
	}, counts)
}

func TestJournalRecentRunsOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := openJournal(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, j.BeginRun(ctx, ports.RunInfo{ID: id, Command: "crawl", StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	runs, err := j.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.True(t, runs[0].FinishedAt.IsZero())
}

func TestJournalFinishUnknownRun(t *testing.T) {
	t.Parallel()

	j := openJournal(t)
	require.Error(t, j.FinishRun(context.Background(), ports.RunInfo{ID: "missing", FinishedAt: time.Now()}))
}

func TestJournalConcurrentOutcomes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := openJournal(t)
	require.NoError(t, j.BeginRun(ctx, ports.RunInfo{ID: "r", Command: "fetch", StartedAt: time.Now()}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := j.RecordOutcome(ctx, ports.Outcome{RunID: "r", Request: domain.NewSnapshotRequest("x", ""), Kind: domain.KindIOFailure})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	counts, err := j.KindCounts(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 16, counts[domain.KindIOFailure])
}
