package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/bookmark-agent/internal/types"
)

func seedSummary(t *testing.T, h *harness, id string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, h.mem.Upsert(context.Background(), &types.ItemSummary{
		TweetID: id, Version: types.SummaryVersion, OneLinerZh: "摘要", CreatedAt: createdAt,
	}))
}

func TestGenerateDigest_DailyHappyPath(t *testing.T) {
	h := newHarness(&fakeAPI{})
	ctx := context.Background()
	seedSummary(t, h, "t1", testNow.Add(-2*time.Hour))
	seedSummary(t, h, "t2", testNow.Add(-20*time.Hour))
	// Outside the daily window.
	seedSummary(t, h, "t3", testNow.Add(-30*time.Hour))

	result, err := h.engine.GenerateDigest(ctx, types.PeriodDaily)
	require.NoError(t, err)

	assert.True(t, result.Generated)
	require.NotNil(t, result.Report)
	assert.Equal(t, "2026-08-29", result.Report.PeriodKey)
	assert.Equal(t, 2, result.Report.ItemCount)
	assert.Equal(t, 1, h.normalizer.digestCalls)

	stored, err := h.mem.GetDigest(ctx, types.PeriodDaily, "2026-08-29")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, result.Report.PeriodKey, stored.PeriodKey)
}

func TestGenerateDigest_WeeklyUsesISOWeekKey(t *testing.T) {
	h := newHarness(&fakeAPI{})
	seedSummary(t, h, "t1", testNow.Add(-3*24*time.Hour))

	result, err := h.engine.GenerateDigest(context.Background(), types.PeriodWeekly)
	require.NoError(t, err)

	assert.True(t, result.Generated)
	assert.Equal(t, "2026-W35", result.Report.PeriodKey)
}

func TestGenerateDigest_EmptyWindowGeneratesNothing(t *testing.T) {
	h := newHarness(&fakeAPI{})

	result, err := h.engine.GenerateDigest(context.Background(), types.PeriodDaily)
	require.NoError(t, err)

	assert.False(t, result.Generated)
	assert.NotEmpty(t, result.Reason)
	assert.Zero(t, h.normalizer.digestCalls)
}

func TestGenerateDigest_RegenerationReplacesReport(t *testing.T) {
	h := newHarness(&fakeAPI{})
	ctx := context.Background()
	seedSummary(t, h, "t1", testNow.Add(-time.Hour))

	_, err := h.engine.GenerateDigest(ctx, types.PeriodDaily)
	require.NoError(t, err)

	seedSummary(t, h, "t2", testNow.Add(-time.Minute))
	result, err := h.engine.GenerateDigest(ctx, types.PeriodDaily)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Report.ItemCount)

	stored, err := h.mem.GetDigest(ctx, types.PeriodDaily, "2026-08-29")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ItemCount)
}

func TestGenerateDigest_InvalidPeriod(t *testing.T) {
	h := newHarness(&fakeAPI{})

	_, err := h.engine.GenerateDigest(context.Background(), types.DigestPeriod("monthly"))
	var validation *types.ErrValidation
	require.ErrorAs(t, err, &validation)
}
