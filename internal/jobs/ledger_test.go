package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/bookmark-agent/internal/store"
	"github.com/jonathan/bookmark-agent/internal/types"
)

var testNow = time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

type fakePipeline struct {
	syncResult   *types.SyncResult
	syncErr      error
	syncCalls    int
	digestResult *types.DigestResult
	digestErr    error
	digestCalls  int
	resumResult  *types.ResummarizeResult
	resumErr     error
}

func (f *fakePipeline) Sync(context.Context) (*types.SyncResult, error) {
	f.syncCalls++
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	r := *f.syncResult
	return &r, nil
}

func (f *fakePipeline) Resummarize(context.Context, types.ResummarizeFilter) (*types.ResummarizeResult, error) {
	if f.resumErr != nil {
		return nil, f.resumErr
	}
	return f.resumResult, nil
}

func (f *fakePipeline) GenerateDigest(context.Context, types.DigestPeriod) (*types.DigestResult, error) {
	f.digestCalls++
	if f.digestErr != nil {
		return nil, f.digestErr
	}
	return f.digestResult, nil
}

type ledgerHarness struct {
	runner   *Runner
	pipeline *fakePipeline
	mem      *store.Memory
	now      time.Time
}

func newLedgerHarness(pipeline *fakePipeline) *ledgerHarness {
	h := &ledgerHarness{pipeline: pipeline, mem: store.NewMemory(), now: testNow}
	h.runner = NewRunner(RunnerOptions{
		Pipeline:     pipeline,
		Runs:         h.mem,
		KV:           h.mem,
		SyncInterval: 6 * time.Hour,
		Retention:    72 * time.Hour,
		Now:          func() time.Time { return h.now },
	})
	return h
}

func productiveSync() *types.SyncResult {
	return &types.SyncResult{
		Pages: 1, TotalFetched: 3, TotalInserted: 3, SummariesWritten: 3,
		StopReason: types.StopNoContinuation,
	}
}

func runsByName(t *testing.T, mem *store.Memory, name string) []types.JobRun {
	t.Helper()
	all, err := mem.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	var out []types.JobRun
	for _, r := range all {
		if r.JobName == name {
			out = append(out, r)
		}
	}
	return out
}

func TestRunSync_LedgersSuccess(t *testing.T) {
	h := newLedgerHarness(&fakePipeline{
		syncResult:   productiveSync(),
		digestResult: &types.DigestResult{Generated: true, Report: &types.DigestReport{PeriodKey: "2026-08-29"}},
	})

	result, err := h.runner.RunSync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalInserted)

	syncRuns := runsByName(t, h.mem, JobSync)
	require.Len(t, syncRuns, 1)
	assert.Equal(t, types.JobSuccess, syncRuns[0].Status)
	assert.NotNil(t, syncRuns[0].FinishedAt)
	assert.Equal(t, 3, syncRuns[0].Metadata["total_inserted"])

	// Last-run marker recorded for the interval gate.
	raw, ok, err := h.mem.Get(context.Background(), lastSyncKey)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, raw)
	assert.NoError(t, err)
}

func TestRunSync_LedgersFailureExactlyOnce(t *testing.T) {
	h := newLedgerHarness(&fakePipeline{
		syncErr: &types.ErrServiceUnavailable{Upstream: "bookmark-api", Status: 503},
	})

	_, err := h.runner.RunSync(context.Background(), true)
	require.Error(t, err)

	syncRuns := runsByName(t, h.mem, JobSync)
	require.Len(t, syncRuns, 1)
	assert.Equal(t, types.JobFailed, syncRuns[0].Status)
	assert.Contains(t, syncRuns[0].Error, "bookmark-api")
	assert.NotNil(t, syncRuns[0].FinishedAt)
}

func TestRunSync_IntervalGate(t *testing.T) {
	h := newLedgerHarness(&fakePipeline{syncResult: productiveSync(),
		digestResult: &types.DigestResult{Generated: true}})
	ctx := context.Background()

	_, err := h.runner.RunSync(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, h.pipeline.syncCalls)

	// Within the interval the run is skipped without a ledger row.
	h.now = h.now.Add(2 * time.Hour)
	result, err := h.runner.RunSync(ctx, false)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, types.StopIntervalGate, result.StopReason)
	assert.Equal(t, 1, h.pipeline.syncCalls)
	assert.Len(t, runsByName(t, h.mem, JobSync), 1)

	// Force bypasses the gate.
	_, err = h.runner.RunSync(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, h.pipeline.syncCalls)

	// Past the interval the gate opens on its own.
	h.now = h.now.Add(7 * time.Hour)
	result, err = h.runner.RunSync(ctx, false)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 3, h.pipeline.syncCalls)
}

func TestRunSync_GarbledMarkerRunsAnyway(t *testing.T) {
	h := newLedgerHarness(&fakePipeline{syncResult: productiveSync(),
		digestResult: &types.DigestResult{Generated: true}})
	ctx := context.Background()
	require.NoError(t, h.mem.Set(ctx, lastSyncKey, "not a timestamp"))

	result, err := h.runner.RunSync(ctx, false)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
}

func TestRunSync_AutoDigestCascade(t *testing.T) {
	h := newLedgerHarness(&fakePipeline{
		syncResult:   productiveSync(),
		digestResult: &types.DigestResult{Generated: true, Report: &types.DigestReport{PeriodKey: "2026-08-29"}},
	})
	ctx := context.Background()

	result, err := h.runner.RunSync(ctx, true)
	require.NoError(t, err)

	assert.True(t, result.AutoDigestTriggered)
	assert.Empty(t, result.AutoDigestError)
	assert.Equal(t, 1, h.pipeline.digestCalls)
	// The cascade runs as its own ledgered job.
	assert.Len(t, runsByName(t, h.mem, JobDigestDaily), 1)

	// A second productive sync inside the cooldown does not re-trigger.
	h.now = h.now.Add(10 * time.Minute)
	result, err = h.runner.RunSync(ctx, true)
	require.NoError(t, err)
	assert.False(t, result.AutoDigestTriggered)
	assert.Equal(t, 1, h.pipeline.digestCalls)

	// Past the cooldown it triggers again.
	h.now = h.now.Add(31 * time.Minute)
	result, err = h.runner.RunSync(ctx, true)
	require.NoError(t, err)
	assert.True(t, result.AutoDigestTriggered)
	assert.Equal(t, 2, h.pipeline.digestCalls)
}

func TestRunSync_NoInsertsNoCascade(t *testing.T) {
	h := newLedgerHarness(&fakePipeline{
		syncResult: &types.SyncResult{Pages: 1, StopReason: types.StopNothingToSync},
	})

	result, err := h.runner.RunSync(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, result.AutoDigestTriggered)
	assert.Zero(t, h.pipeline.digestCalls)
}

func TestRunSync_DigestFailureAbsorbedIntoResult(t *testing.T) {
	h := newLedgerHarness(&fakePipeline{
		syncResult: productiveSync(),
		digestErr:  errors.New("digest pipeline broke"),
	})

	result, err := h.runner.RunSync(context.Background(), true)
	require.NoError(t, err, "digest failure must not fail the sync")

	assert.True(t, result.AutoDigestTriggered)
	assert.Contains(t, result.AutoDigestError, "digest pipeline broke")

	syncRuns := runsByName(t, h.mem, JobSync)
	require.Len(t, syncRuns, 1)
	assert.Equal(t, types.JobSuccess, syncRuns[0].Status)
	digestRuns := runsByName(t, h.mem, JobDigestDaily)
	require.Len(t, digestRuns, 1)
	assert.Equal(t, types.JobFailed, digestRuns[0].Status)
}

func TestRunResummarize_Ledgered(t *testing.T) {
	h := newLedgerHarness(&fakePipeline{
		resumResult: &types.ResummarizeResult{Selected: 6, Processed: 6, Updated: 5, Failed: 1},
	})

	result, err := h.runner.RunResummarize(context.Background(), types.ResummarizeFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Updated)

	runs := runsByName(t, h.mem, JobResummarize)
	require.Len(t, runs, 1)
	assert.Equal(t, types.JobSuccess, runs[0].Status)
	assert.Equal(t, 6, runs[0].Metadata["processed"])
}

func TestRunDigest_WeeklyJobName(t *testing.T) {
	h := newLedgerHarness(&fakePipeline{digestResult: &types.DigestResult{Generated: false, Reason: "no summaries"}})

	_, err := h.runner.RunDigest(context.Background(), types.PeriodWeekly)
	require.NoError(t, err)
	assert.Len(t, runsByName(t, h.mem, JobDigestWeek), 1)
}

func TestPurgeOldRuns(t *testing.T) {
	h := newLedgerHarness(&fakePipeline{})
	ctx := context.Background()

	old := &types.JobRun{ID: uuid.New(), JobName: JobSync, Status: types.JobSuccess,
		StartedAt: testNow.Add(-100 * time.Hour)}
	fresh := &types.JobRun{ID: uuid.New(), JobName: JobSync, Status: types.JobSuccess,
		StartedAt: testNow.Add(-time.Hour)}
	require.NoError(t, h.mem.CreateRun(ctx, old))
	require.NoError(t, h.mem.CreateRun(ctx, fresh))

	purged, err := h.runner.PurgeOldRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	remaining := runsByName(t, h.mem, JobSync)
	require.Len(t, remaining, 1)
	assert.Equal(t, fresh.ID, remaining[0].ID)

	purgeRuns := runsByName(t, h.mem, JobPurge)
	require.Len(t, purgeRuns, 1)
	assert.Equal(t, int64(1), purgeRuns[0].Metadata["purged"])
}

func TestListRuns_Limits(t *testing.T) {
	h := newLedgerHarness(&fakePipeline{})
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		require.NoError(t, h.mem.CreateRun(ctx, &types.JobRun{
			ID: uuid.New(), JobName: JobSync, Status: types.JobSuccess,
			StartedAt: testNow.Add(-time.Duration(i) * time.Minute),
		}))
	}

	runs, err := h.runner.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, defaultListLimit)

	runs, err = h.runner.ListRuns(ctx, 1000)
	require.NoError(t, err)
	assert.Len(t, runs, 60)
}
