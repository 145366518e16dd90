package budget

import (
	"context"

	"github.com/jonathan/bookmark-agent/internal/store"
	"github.com/jonathan/bookmark-agent/internal/types"
)

// Selector ranks configured providers for the next model call. Under normal
// budget the order is ascending priority; once the usage ratio reaches
// PressureThreshold the order is reversed so alternate providers absorb load
// before the nominally preferred one is hit again.
type Selector struct {
	providers store.ProviderStore
	tracker   *Tracker
}

// NewSelector builds a Selector.
func NewSelector(providers store.ProviderStore, tracker *Tracker) *Selector {
	return &Selector{providers: providers, tracker: tracker}
}

// Candidates returns the ordered provider candidates and the current usage
// ratio. The ratio is computed against the combined monthly ceiling of all
// enabled providers.
func (s *Selector) Candidates(ctx context.Context) ([]types.ProviderConfig, float64, error) {
	providers, err := s.providers.EnabledProviders(ctx)
	if err != nil {
		return nil, 0, err
	}
	if len(providers) == 0 {
		return nil, 0, nil
	}

	var ceiling float64
	for _, p := range providers {
		ceiling += p.MonthlyBudget
	}
	ratio, err := s.tracker.UsageRatio(ctx, ceiling)
	if err != nil {
		return nil, 0, err
	}

	if ratio >= PressureThreshold {
		reversed := make([]types.ProviderConfig, len(providers))
		for i, p := range providers {
			reversed[len(providers)-1-i] = p
		}
		providers = reversed
	}
	return providers, ratio, nil
}
