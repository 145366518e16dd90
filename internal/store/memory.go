package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/bookmark-agent/internal/types"
)

// Memory is an in-memory implementation of every store contract. It backs
// unit tests and local development without Postgres or Redis.
type Memory struct {
	mu        sync.Mutex
	bookmarks map[string]types.BookmarkItem
	summaries map[string]types.ItemSummary // keyed tweetID (version pinned)
	digests   map[string]types.DigestReport
	runs      map[uuid.UUID]types.JobRun
	providers map[string]types.ProviderConfig
	kv        map[string]string
}

var (
	_ BookmarkStore = (*Memory)(nil)
	_ SummaryStore  = (*Memory)(nil)
	_ DigestStore   = (*Memory)(nil)
	_ JobRunStore   = (*Memory)(nil)
	_ ProviderStore = (*Memory)(nil)
	_ KV            = (*Memory)(nil)
)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		bookmarks: make(map[string]types.BookmarkItem),
		summaries: make(map[string]types.ItemSummary),
		digests:   make(map[string]types.DigestReport),
		runs:      make(map[uuid.UUID]types.JobRun),
		providers: make(map[string]types.ProviderConfig),
		kv:        make(map[string]string),
	}
}

// ExistingIDs reports which tweet IDs are already stored.
func (m *Memory) ExistingIDs(_ context.Context, tweetIDs []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := make(map[string]bool, len(tweetIDs))
	for _, id := range tweetIDs {
		if _, ok := m.bookmarks[id]; ok {
			existing[id] = true
		}
	}
	return existing, nil
}

// Insert stores an item unless its tweet ID already exists.
func (m *Memory) Insert(_ context.Context, item *types.BookmarkItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookmarks[item.TweetID]; ok {
		return false, nil
	}
	m.bookmarks[item.TweetID] = *item
	return true, nil
}

// Recent returns items by descending SyncedAt, bounded by the filter.
func (m *Memory) Recent(_ context.Context, f RecentFilter) ([]types.BookmarkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	allow := map[string]bool{}
	for _, id := range f.TweetIDs {
		allow[id] = true
	}
	var items []types.BookmarkItem
	for _, it := range m.bookmarks {
		if len(allow) > 0 && !allow[it.TweetID] {
			continue
		}
		if f.SyncedSince != nil && it.SyncedAt.Before(*f.SyncedSince) {
			continue
		}
		if f.RequireText && it.Text == "" {
			continue
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SyncedAt.After(items[j].SyncedAt) })
	if f.Limit > 0 && len(items) > f.Limit {
		items = items[:f.Limit]
	}
	return items, nil
}

// Upsert writes a summary row.
func (m *Memory) Upsert(_ context.Context, s *types.ItemSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[s.TweetID] = *s
	return nil
}

// ExistingFor reports which tweet IDs already have a summary.
func (m *Memory) ExistingFor(_ context.Context, tweetIDs []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := make(map[string]bool, len(tweetIDs))
	for _, id := range tweetIDs {
		if _, ok := m.summaries[id]; ok {
			existing[id] = true
		}
	}
	return existing, nil
}

// CreatedSince returns summaries created after the given instant.
func (m *Memory) CreatedSince(_ context.Context, since time.Time, limit int) ([]types.ItemSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ItemSummary
	for _, s := range m.summaries {
		if s.CreatedAt.Before(since) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpsertDigest writes a digest row.
func (m *Memory) UpsertDigest(_ context.Context, d *types.DigestReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.digests[string(d.Period)+"/"+d.PeriodKey] = *d
	return nil
}

// GetDigest retrieves a digest; nil when absent.
func (m *Memory) GetDigest(_ context.Context, period types.DigestPeriod, periodKey string) (*types.DigestReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.digests[string(period)+"/"+periodKey]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// CreateRun inserts a ledger row.
func (m *Memory) CreateRun(_ context.Context, run *types.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

// FinishRun records the terminal transition of a run.
func (m *Memory) FinishRun(_ context.Context, id uuid.UUID, status string, metadata map[string]any, errMsg string, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok || run.Status != types.JobRunning {
		return &types.ErrValidation{Field: "id", Message: "job run is not in RUNNING state"}
	}
	run.Status = status
	run.Metadata = metadata
	run.Error = errMsg
	run.FinishedAt = &finishedAt
	m.runs[id] = run
	return nil
}

// ListRuns returns ledger rows by descending start time.
func (m *Memory) ListRuns(_ context.Context, limit int) ([]types.JobRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runs []types.JobRun
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// PurgeRunsBefore deletes rows older than the cutoff.
func (m *Memory) PurgeRunsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var purged int64
	for id, r := range m.runs {
		if r.StartedAt.Before(cutoff) {
			delete(m.runs, id)
			purged++
		}
	}
	return purged, nil
}

// UpsertProvider writes a provider configuration.
func (m *Memory) UpsertProvider(_ context.Context, p *types.ProviderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Name] = *p
	return nil
}

// GetProvider retrieves one provider config; nil when absent.
func (m *Memory) GetProvider(_ context.Context, name string) (*types.ProviderConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[name]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// EnabledProviders returns enabled providers by ascending priority.
func (m *Memory) EnabledProviders(_ context.Context) ([]types.ProviderConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var providers []types.ProviderConfig
	for _, p := range m.providers {
		if p.Enabled {
			providers = append(providers, p)
		}
	}
	sort.Slice(providers, func(i, j int) bool {
		if providers[i].Priority != providers[j].Priority {
			return providers[i].Priority < providers[j].Priority
		}
		return providers[i].Name < providers[j].Name
	})
	return providers, nil
}

// Get returns the KV value and whether the key exists.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.kv[key]
	return val, ok, nil
}

// Set replaces the KV value at key.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

// Delete removes the key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

// IncrByFloat adds delta to a numeric counter.
func (m *Memory) IncrByFloat(_ context.Context, key string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, _ := strconv.ParseFloat(m.kv[key], 64)
	cur += delta
	m.kv[key] = strconv.FormatFloat(cur, 'f', -1, 64)
	return cur, nil
}
