package syncer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/bookmark-agent/internal/types"
)

// maxDigestItems bounds how many summaries feed one digest.
const maxDigestItems = 200

// GenerateDigest aggregates the period's summaries into a digest report and
// upserts it under (period, periodKey). When the window holds no summaries
// no report is generated and the result says why.
func (e *Engine) GenerateDigest(ctx context.Context, period types.DigestPeriod) (*types.DigestResult, error) {
	if period != types.PeriodDaily && period != types.PeriodWeekly {
		return nil, &types.ErrValidation{Field: "period", Message: "period must be daily or weekly"}
	}

	now := e.now()
	periodKey := period.PeriodKey(now)
	since := period.Window(now)

	rows, err := e.summaries.CreatedSince(ctx, since, maxDigestItems)
	if err != nil {
		return nil, fmt.Errorf("failed to collect summaries for digest: %w", err)
	}
	if len(rows) == 0 {
		return &types.DigestResult{Generated: false, Reason: "no summaries in period window"}, nil
	}

	summaries := make([]*types.ItemSummary, len(rows))
	for i := range rows {
		summaries[i] = &rows[i]
	}

	report := e.normalizer.Digest(ctx, period, periodKey, summaries)
	if err := e.digests.UpsertDigest(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to persist digest: %w", err)
	}

	e.log.Info("digest generated",
		zap.String("period", string(period)),
		zap.String("period_key", periodKey),
		zap.Int("items", report.ItemCount),
		zap.String("model", report.Model))
	return &types.DigestResult{Generated: true, Report: report}, nil
}
