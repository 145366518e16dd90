package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/bookmark-agent/internal/llm"
	"github.com/jonathan/bookmark-agent/internal/prompts"
	"github.com/jonathan/bookmark-agent/internal/types"
)

// maxDigestSection caps themes, highlights, risks, and actions per digest.
const maxDigestSection = 5

// Digest aggregates a period's summaries into one report. When the monthly
// budget is exhausted (usage ratio at or past 1.0) no model is called at all
// and a deterministic fallback digest is returned instead.
func (s *Summarizer) Digest(ctx context.Context, period types.DigestPeriod, periodKey string, summaries []*types.ItemSummary) *types.DigestReport {
	candidates, ratio, err := s.selector.Candidates(ctx)
	if err != nil {
		s.log.Warn("provider selection failed, using fallback digest", zap.Error(err))
		return s.fallbackDigest(period, periodKey, summaries)
	}
	if ratio >= 1.0 {
		s.log.Info("monthly budget exhausted, skipping model calls for digest",
			zap.Float64("usage_ratio", ratio))
		return s.fallbackDigest(period, periodKey, summaries)
	}

	for _, p := range candidates {
		report, err := s.tryDigestProvider(ctx, p, period, periodKey, summaries)
		if err != nil {
			s.log.Warn("provider failed for digest",
				zap.String("provider", p.Name),
				zap.String("period_key", periodKey),
				zap.Error(err))
			continue
		}
		return report
	}
	return s.fallbackDigest(period, periodKey, summaries)
}

func (s *Summarizer) tryDigestProvider(ctx context.Context, p types.ProviderConfig, period types.DigestPeriod, periodKey string, summaries []*types.ItemSummary) (*types.DigestReport, error) {
	client, err := s.factory(p)
	if err != nil {
		return nil, fmt.Errorf("client for %s: %w", p.Name, err)
	}

	system, err := s.prompts.Get("digest.json", "system")
	if err != nil {
		return nil, err
	}
	template, err := s.prompts.Get("digest.json", "digest")
	if err != nil {
		return nil, err
	}
	briefs, err := json.Marshal(digestBriefs(summaries))
	if err != nil {
		return nil, err
	}
	user := prompts.Format(template, map[string]string{
		"Period":    string(period),
		"PeriodKey": periodKey,
		"Briefs":    string(briefs),
	})

	raw, err := client.ChatJSON(ctx, llm.Request{
		Model:       p.DigestModel,
		System:      system,
		User:        user,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, err
	}
	s.recordSpend(ctx, len(user)+len(raw))

	report, err := ParseDigest(raw)
	if err != nil {
		return nil, err
	}
	report.Period = period
	report.PeriodKey = periodKey
	report.ItemCount = len(summaries)
	report.Provider = p.Name
	report.Model = p.DigestModel
	report.GeneratedAt = s.now()
	return report, nil
}

// digestBrief is the compact per-item view handed to the digest model.
type digestBrief struct {
	TweetID   string   `json:"tweet_id"`
	OneLiner  string   `json:"one_liner"`
	Viewpoint string   `json:"viewpoint"`
	Tags      []string `json:"tags,omitempty"`
}

func digestBriefs(summaries []*types.ItemSummary) []digestBrief {
	out := make([]digestBrief, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, digestBrief{
			TweetID:   sum.TweetID,
			OneLiner:  sum.OneLinerZh,
			Viewpoint: sum.CoreViewpoint,
			Tags:      sum.Tags,
		})
	}
	return out
}

// ParseDigest extracts a digest report from raw model output, using the same
// root and alias tables as summary parsing. Every section is capped.
func ParseDigest(raw string) (*types.DigestReport, error) {
	span := llm.ExtractJSONSpan(raw)
	var payload map[string]any
	if err := json.Unmarshal([]byte(span), &payload); err != nil {
		return nil, fmt.Errorf("digest output is not parseable JSON: %w", err)
	}
	rs := roots(payload)

	report := &types.DigestReport{
		Themes:     capList(lookupList(rs, "themes")),
		Highlights: parseHighlights(rs),
		Risks:      capList(lookupList(rs, "risks")),
		Actions:    capList(lookupList(rs, "actions")),
	}
	if len(report.Themes) == 0 && len(report.Highlights) == 0 {
		return nil, fmt.Errorf("digest output carries no themes or highlights")
	}
	return report, nil
}

// parseHighlights reads the highlights section, which may be a list of
// objects or a plain string list.
func parseHighlights(rs []map[string]any) []types.DigestHighlight {
	var out []types.DigestHighlight
	for _, alias := range fieldAliases["highlights"] {
		for _, r := range rs {
			v, ok := r[alias]
			if !ok {
				continue
			}
			if entries, ok := v.([]any); ok {
				for _, e := range entries {
					if h, ok := highlightFromAny(e); ok {
						out = append(out, h)
					}
					if len(out) >= maxDigestSection {
						return out
					}
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return out
}

func highlightFromAny(e any) (types.DigestHighlight, bool) {
	switch val := e.(type) {
	case string:
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return types.DigestHighlight{Reason: trimmed}, true
		}
	case map[string]any:
		h := types.DigestHighlight{
			TweetID:  stringField(val, "tweet_id", "id"),
			Reason:   stringField(val, "reason", "why", "summary"),
			NextStep: stringField(val, "next_step", "action", "follow_up"),
		}
		if h.Reason != "" || h.TweetID != "" {
			return h, true
		}
	}
	return types.DigestHighlight{}, false
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func capList(items []string) []string {
	if len(items) > maxDigestSection {
		return items[:maxDigestSection]
	}
	return items
}

// fallbackDigest builds a digest without any model: the most frequent tags
// become themes and the first items become highlights.
func (s *Summarizer) fallbackDigest(period types.DigestPeriod, periodKey string, summaries []*types.ItemSummary) *types.DigestReport {
	report := &types.DigestReport{
		Period:      period,
		PeriodKey:   periodKey,
		Themes:      topTags(summaries),
		Risks:       []string{"本期报告未经过模型归纳，仅为条目罗列。"},
		ItemCount:   len(summaries),
		Model:       FallbackModel,
		GeneratedAt: s.now(),
	}
	for _, sum := range summaries {
		if len(report.Highlights) >= maxDigestSection {
			break
		}
		report.Highlights = append(report.Highlights, types.DigestHighlight{
			TweetID: sum.TweetID,
			Reason:  sum.OneLinerZh,
		})
	}
	return report
}

// topTags returns the most frequent tags across summaries, ties broken
// alphabetically.
func topTags(summaries []*types.ItemSummary) []string {
	counts := make(map[string]int)
	for _, sum := range summaries {
		for _, tag := range sum.Tags {
			counts[tag]++
		}
	}
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	return capList(tags)
}
