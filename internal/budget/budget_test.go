package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/bookmark-agent/internal/store"
	"github.com/jonathan/bookmark-agent/internal/types"
)

var august = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func TestTracker_RecordAccumulates(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(store.NewMemory(), func() time.Time { return august })

	total, err := tracker.Record(ctx, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, total, 1e-9)

	total, err = tracker.Record(ctx, 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, total, 1e-9)

	spend, err := tracker.MonthSpend(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, spend, 1e-9)
}

func TestTracker_MonthRolloverResetsImplicitly(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	now := august
	tracker := NewTracker(kv, func() time.Time { return now })

	_, err := tracker.Record(ctx, 3)
	require.NoError(t, err)

	now = august.AddDate(0, 1, 0)
	spend, err := tracker.MonthSpend(ctx)
	require.NoError(t, err)
	assert.Zero(t, spend)
}

func TestTracker_UsageRatio(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(store.NewMemory(), func() time.Time { return august })
	_, err := tracker.Record(ctx, 7.5)
	require.NoError(t, err)

	ratio, err := tracker.UsageRatio(ctx, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, ratio, 1e-9)

	// Ceiling of zero or less counts as fully exhausted.
	ratio, err = tracker.UsageRatio(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ratio)
}

func seedProviders(t *testing.T, mem *store.Memory) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.UpsertProvider(ctx, &types.ProviderConfig{
		Name: "A", Enabled: true, Priority: 10, MonthlyBudget: 5,
	}))
	require.NoError(t, mem.UpsertProvider(ctx, &types.ProviderConfig{
		Name: "B", Enabled: true, Priority: 20, MonthlyBudget: 5,
	}))
	require.NoError(t, mem.UpsertProvider(ctx, &types.ProviderConfig{
		Name: "C", Enabled: false, Priority: 1, MonthlyBudget: 5,
	}))
}

func TestSelector_NormalBudgetOrdersByPriority(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedProviders(t, mem)
	selector := NewSelector(mem, NewTracker(mem, func() time.Time { return august }))

	candidates, ratio, err := selector.Candidates(ctx)
	require.NoError(t, err)
	assert.Less(t, ratio, PressureThreshold)
	require.Len(t, candidates, 2)
	assert.Equal(t, "A", candidates[0].Name)
	assert.Equal(t, "B", candidates[1].Name)
}

func TestSelector_PressureReversesOrder(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedProviders(t, mem)
	tracker := NewTracker(mem, func() time.Time { return august })
	// Combined ceiling is 10; spend 7.5 puts the ratio at 0.75.
	_, err := tracker.Record(ctx, 7.5)
	require.NoError(t, err)

	selector := NewSelector(mem, tracker)
	candidates, ratio, err := selector.Candidates(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, ratio, 1e-9)
	require.Len(t, candidates, 2)
	assert.Equal(t, "B", candidates[0].Name)
	assert.Equal(t, "A", candidates[1].Name)
}

func TestSelector_NoProviders(t *testing.T) {
	mem := store.NewMemory()
	selector := NewSelector(mem, NewTracker(mem, func() time.Time { return august }))

	candidates, ratio, err := selector.Candidates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Zero(t, ratio)
}
