// Package budget tracks monthly model spend and orders provider candidates
// under budget pressure.
package budget

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jonathan/bookmark-agent/internal/store"
)

// PressureThreshold is the usage ratio at which provider order is reversed
// so cheaper/alternate providers get tried first.
const PressureThreshold = 0.7

// Tracker maintains a monotonically increasing spend counter keyed by
// calendar month. The key rollover implicitly resets the counter.
type Tracker struct {
	kv  store.KV
	now func() time.Time
}

// NewTracker builds a Tracker on the given KV store.
func NewTracker(kv store.KV, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{kv: kv, now: now}
}

func (t *Tracker) monthKey() string {
	return "budget:spend:" + t.now().UTC().Format("2006-01")
}

// Record adds an estimated cost to this month's counter and returns the new
// total.
func (t *Tracker) Record(ctx context.Context, cost float64) (float64, error) {
	if cost <= 0 {
		return t.MonthSpend(ctx)
	}
	total, err := t.kv.IncrByFloat(ctx, t.monthKey(), cost)
	if err != nil {
		return 0, fmt.Errorf("failed to record spend: %w", err)
	}
	return total, nil
}

// MonthSpend returns the counter for the current calendar month.
func (t *Tracker) MonthSpend(ctx context.Context) (float64, error) {
	raw, ok, err := t.kv.Get(ctx, t.monthKey())
	if err != nil {
		return 0, fmt.Errorf("failed to read spend: %w", err)
	}
	if !ok {
		return 0, nil
	}
	spend, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("spend counter is not numeric: %w", err)
	}
	return spend, nil
}

// UsageRatio returns monthSpend / ceiling. A ceiling of zero or less counts
// as fully exhausted.
func (t *Tracker) UsageRatio(ctx context.Context, ceiling float64) (float64, error) {
	if ceiling <= 0 {
		return 1.0, nil
	}
	spend, err := t.MonthSpend(ctx)
	if err != nil {
		return 0, err
	}
	return spend / ceiling, nil
}
