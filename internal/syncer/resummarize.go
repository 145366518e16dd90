package syncer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/bookmark-agent/internal/store"
	"github.com/jonathan/bookmark-agent/internal/types"
)

const (
	// maxResummarizeBatch bounds one resummarize invocation.
	maxResummarizeBatch = 500
	// maxCapturedErrors bounds the per-item error list in the result
	// envelope.
	maxCapturedErrors = 20
)

// Resummarize re-runs summarization over already-ingested items selected by
// recency. A single item's failure is tallied, never aborts the batch.
func (e *Engine) Resummarize(ctx context.Context, filter types.ResummarizeFilter) (*types.ResummarizeResult, error) {
	if len(filter.TweetIDs) > maxResummarizeBatch {
		return nil, &types.ErrValidation{Field: "tweet_ids", Message: fmt.Sprintf("at most %d ids per batch", maxResummarizeBatch)}
	}
	for _, id := range filter.TweetIDs {
		if id == "" {
			return nil, &types.ErrValidation{Field: "tweet_ids", Message: "ids must be non-empty"}
		}
	}
	limit := filter.Limit
	switch {
	case limit < 0 || limit > maxResummarizeBatch:
		return nil, &types.ErrValidation{Field: "limit", Message: fmt.Sprintf("limit must be between 0 and %d", maxResummarizeBatch)}
	case limit == 0:
		limit = maxResummarizeBatch
	}

	items, err := e.bookmarks.Recent(ctx, store.RecentFilter{
		TweetIDs:    filter.TweetIDs,
		SyncedSince: filter.SyncedSince,
		RequireText: true,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to select items: %w", err)
	}

	result := &types.ResummarizeResult{Selected: len(items)}

	skip := map[string]bool{}
	if !filter.Overwrite {
		ids := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.TweetID
		}
		skip, err = e.summaries.ExistingFor(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing summaries: %w", err)
		}
	}

	for i := range items {
		item := &items[i]
		if skip[item.TweetID] {
			result.SkippedExisting++
			continue
		}
		result.Processed++

		summary := e.normalizer.MiniSummary(ctx, item)
		if err := e.summaries.Upsert(ctx, summary); err != nil {
			result.Failed++
			if len(result.Errors) < maxCapturedErrors {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.TweetID, err))
			}
			e.log.Warn("failed to persist resummarized item",
				zap.String("tweet_id", item.TweetID), zap.Error(err))
			continue
		}
		result.Updated++
	}
	return result, nil
}
