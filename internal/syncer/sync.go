// Package syncer orchestrates incremental bookmark ingestion: paginated
// fetch, dedupe against the document store, detail hydration, and per-item
// summarization. Processing is strictly sequential within one invocation so
// external rate limits and the budget counter are never hit concurrently.
package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/bookmark-agent/internal/store"
	"github.com/jonathan/bookmark-agent/internal/types"
	"github.com/jonathan/bookmark-agent/internal/xapi"
)

// maxPagesPerSync bounds one invocation regardless of continuation tokens.
const maxPagesPerSync = 5

// BookmarkAPI is the slice of the external API the engine needs.
type BookmarkAPI interface {
	Me(ctx context.Context) (*xapi.Identity, error)
	BookmarkPage(ctx context.Context, userID, paginationToken string, pageSize int) (*xapi.BookmarkPage, error)
	TweetDetails(ctx context.Context, ids []string) ([]xapi.TweetDetail, error)
}

// TokenSource supplies and updates the external account's token bundle.
type TokenSource interface {
	Ensure(ctx context.Context) (*types.TokenBundle, error)
	SaveUserID(ctx context.Context, userID string) error
}

// Normalizer produces summaries and digests from ingested content.
type Normalizer interface {
	MiniSummary(ctx context.Context, item *types.BookmarkItem) *types.ItemSummary
	Digest(ctx context.Context, period types.DigestPeriod, periodKey string, summaries []*types.ItemSummary) *types.DigestReport
}

// Engine runs sync, resummarize, and digest flows against the stores.
type Engine struct {
	api        BookmarkAPI
	tokens     TokenSource
	bookmarks  store.BookmarkStore
	summaries  store.SummaryStore
	digests    store.DigestStore
	normalizer Normalizer
	pageSize   int
	now        func() time.Time
	log        *zap.Logger
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	API        BookmarkAPI
	Tokens     TokenSource
	Bookmarks  store.BookmarkStore
	Summaries  store.SummaryStore
	Digests    store.DigestStore
	Normalizer Normalizer
	PageSize   int
	Now        func() time.Time
	Logger     *zap.Logger
}

// NewEngine builds an Engine. A zero page size defaults to 50.
func NewEngine(opts EngineOptions) *Engine {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		api:        opts.API,
		tokens:     opts.Tokens,
		bookmarks:  opts.Bookmarks,
		summaries:  opts.Summaries,
		digests:    opts.Digests,
		normalizer: opts.Normalizer,
		pageSize:   pageSize,
		now:        now,
		log:        log,
	}
}

// Sync walks bookmark pages most-recent-first and ingests unseen items.
// Because pages arrive in recency order, any already-known ID on a page means
// the rest of the history is already synced; the page is still processed but
// no further page is requested. A page-level failure aborts the whole call;
// progress already persisted is kept.
func (e *Engine) Sync(ctx context.Context) (*types.SyncResult, error) {
	userID, err := e.resolveUserID(ctx)
	if err != nil {
		return nil, err
	}

	result := &types.SyncResult{}
	next := ""
	for result.Pages < maxPagesPerSync {
		page, err := e.api.BookmarkPage(ctx, userID, next, e.pageSize)
		if err != nil {
			return nil, err
		}
		result.Pages++

		if len(page.TweetIDs) == 0 {
			if result.TotalFetched == 0 {
				result.StopReason = types.StopNothingToSync
			} else {
				result.StopReason = types.StopEmptyPage
			}
			break
		}
		result.TotalFetched += len(page.TweetIDs)

		existing, err := e.bookmarks.ExistingIDs(ctx, page.TweetIDs)
		if err != nil {
			return nil, fmt.Errorf("existence check failed: %w", err)
		}
		var newIDs []string
		for _, id := range page.TweetIDs {
			if !existing[id] {
				newIDs = append(newIDs, id)
			}
		}

		if err := e.ingestPage(ctx, newIDs, result); err != nil {
			return nil, err
		}

		if len(existing) > 0 {
			result.StoppedOnFirstExistingPage = true
			result.StopReason = types.StopExistingSeen
			break
		}
		if page.NextToken == "" {
			result.StopReason = types.StopNoContinuation
			break
		}
		next = page.NextToken
	}
	if result.StopReason == "" {
		result.StopReason = types.StopPageLimit
	}

	e.log.Info("sync completed",
		zap.Int("pages", result.Pages),
		zap.Int("fetched", result.TotalFetched),
		zap.Int("inserted", result.TotalInserted),
		zap.Int("summaries", result.SummariesWritten),
		zap.String("stop_reason", result.StopReason))
	return result, nil
}

// resolveUserID ensures a valid token and returns the external user id,
// fetching and caching it in the bundle on first use.
func (e *Engine) resolveUserID(ctx context.Context) (string, error) {
	bundle, err := e.tokens.Ensure(ctx)
	if err != nil {
		return "", err
	}
	if bundle.UserID != "" {
		return bundle.UserID, nil
	}
	identity, err := e.api.Me(ctx)
	if err != nil {
		return "", err
	}
	if err := e.tokens.SaveUserID(ctx, identity.ID); err != nil {
		return "", fmt.Errorf("failed to cache user id: %w", err)
	}
	return identity.ID, nil
}

// ingestPage hydrates unseen IDs, inserts new rows, and summarizes each
// newly-inserted item with non-empty text.
func (e *Engine) ingestPage(ctx context.Context, newIDs []string, result *types.SyncResult) error {
	if len(newIDs) == 0 {
		return nil
	}
	details, err := e.api.TweetDetails(ctx, newIDs)
	if err != nil {
		return err
	}
	result.DetailsFetched += len(details)

	for i := range details {
		d := &details[i]
		item := &types.BookmarkItem{
			TweetID:           d.ID,
			CreatedAtExternal: d.CreatedAt,
			AuthorName:        d.AuthorName,
			Text:              d.Text,
			URL:               d.URL,
			RawPayload:        d.Raw,
			SyncedAt:          e.now(),
		}
		inserted, err := e.bookmarks.Insert(ctx, item)
		if err != nil {
			return fmt.Errorf("failed to insert bookmark %s: %w", d.ID, err)
		}
		if !inserted {
			continue
		}
		result.TotalInserted++

		if item.Text == "" {
			result.SkippedNoText++
			continue
		}
		summary := e.normalizer.MiniSummary(ctx, item)
		if err := e.summaries.Upsert(ctx, summary); err != nil {
			return fmt.Errorf("failed to persist summary for %s: %w", d.ID, err)
		}
		result.SummariesWritten++
	}
	return nil
}
