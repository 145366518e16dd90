// Package store defines the persistence contracts consumed by the sync and
// summarization pipeline, plus the Postgres and Redis implementations.
//
// The pipeline only ever needs key lookups, batched existence checks,
// unique-key upserts, and bounded range queries, so the contracts stay small
// and every implementation (including the in-memory one used by tests) is
// trivially substitutable.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/bookmark-agent/internal/types"
)

// RecentFilter bounds a recency query over bookmarks.
type RecentFilter struct {
	TweetIDs    []string   // optional allow-list
	SyncedSince *time.Time // optional lower bound on SyncedAt
	RequireText bool       // drop rows with empty text
	Limit       int
}

// BookmarkStore persists BookmarkItem rows keyed by tweet ID.
type BookmarkStore interface {
	// ExistingIDs reports which of the given tweet IDs are already stored.
	ExistingIDs(ctx context.Context, tweetIDs []string) (map[string]bool, error)
	// Insert stores an item if its tweet ID is not present yet. Returns
	// true when a row was actually written.
	Insert(ctx context.Context, item *types.BookmarkItem) (bool, error)
	// Recent returns items by descending SyncedAt, bounded by the filter.
	Recent(ctx context.Context, f RecentFilter) ([]types.BookmarkItem, error)
}

// SummaryStore persists ItemSummary rows keyed by (tweetID, version).
type SummaryStore interface {
	Upsert(ctx context.Context, s *types.ItemSummary) error
	// ExistingFor reports which tweet IDs already have a summary at the
	// current version.
	ExistingFor(ctx context.Context, tweetIDs []string) (map[string]bool, error)
	// CreatedSince returns summaries created after the given instant, by
	// descending CreatedAt.
	CreatedSince(ctx context.Context, since time.Time, limit int) ([]types.ItemSummary, error)
}

// DigestStore persists DigestReport rows keyed by (period, periodKey).
type DigestStore interface {
	UpsertDigest(ctx context.Context, d *types.DigestReport) error
	GetDigest(ctx context.Context, period types.DigestPeriod, periodKey string) (*types.DigestReport, error)
}

// JobRunStore is the job ledger.
type JobRunStore interface {
	CreateRun(ctx context.Context, run *types.JobRun) error
	// FinishRun records the single terminal transition of a run.
	FinishRun(ctx context.Context, id uuid.UUID, status string, metadata map[string]any, errMsg string, finishedAt time.Time) error
	ListRuns(ctx context.Context, limit int) ([]types.JobRun, error)
	// PurgeRunsBefore enforces the bounded retention horizon.
	PurgeRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ProviderStore persists model provider configurations.
type ProviderStore interface {
	UpsertProvider(ctx context.Context, p *types.ProviderConfig) error
	GetProvider(ctx context.Context, name string) (*types.ProviderConfig, error)
	// EnabledProviders returns enabled providers ordered by ascending priority.
	EnabledProviders(ctx context.Context) ([]types.ProviderConfig, error)
}

// KV is the ephemeral key/value state store: token bundle, budget counters,
// cooldown markers, last-run timestamps. Values are idempotently replaced by
// key; no history is kept.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// IncrByFloat atomically adds delta to a numeric counter and returns
	// the new value. Missing keys start at zero.
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)
}
