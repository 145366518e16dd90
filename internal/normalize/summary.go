package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/bookmark-agent/internal/budget"
	"github.com/jonathan/bookmark-agent/internal/llm"
	"github.com/jonathan/bookmark-agent/internal/prompts"
	"github.com/jonathan/bookmark-agent/internal/types"
)

// FallbackQualityScore marks a summary produced without any model.
const FallbackQualityScore = 0.2

// FallbackModel is the model tag of a summary or digest produced without any
// model.
const FallbackModel = "fallback"

// placeholderSentinels are values models emit when they have nothing to say;
// shape validation treats them as empty.
var placeholderSentinels = map[string]bool{
	"n/a": true, "na": true, "none": true, "null": true, "nil": true,
	"unknown": true, "tbd": true, "todo": true, "-": true, "...": true,
	"待定": true, "无": true, "暂无": true,
}

// ClientFactory builds an llm.Client for one provider config. Injected so
// tests can substitute fakes without HTTP.
type ClientFactory func(p types.ProviderConfig) (llm.Client, error)

// Summarizer runs the provider-failover normalization pipeline for
// summaries, digests, and vocabulary lookups.
type Summarizer struct {
	selector *budget.Selector
	tracker  *budget.Tracker
	factory  ClientFactory
	prompts  *prompts.Cache
	now      func() time.Time
	log      *zap.Logger
}

// NewSummarizer wires a Summarizer. A nil clock uses time.Now; a nil logger
// is replaced with a no-op.
func NewSummarizer(selector *budget.Selector, tracker *budget.Tracker, factory ClientFactory, promptCache *prompts.Cache, now func() time.Time, log *zap.Logger) *Summarizer {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Summarizer{
		selector: selector,
		tracker:  tracker,
		factory:  factory,
		prompts:  promptCache,
		now:      now,
		log:      log,
	}
}

// MiniSummary produces a validated summary for one bookmark. It never fails
// from the caller's point of view: when every provider errors or fails shape
// validation, a clearly-marked fallback summary is returned with quality
// signaled through QualityScore and Model.
func (s *Summarizer) MiniSummary(ctx context.Context, item *types.BookmarkItem) *types.ItemSummary {
	candidates, _, err := s.selector.Candidates(ctx)
	if err != nil {
		s.log.Warn("provider selection failed, using fallback summary", zap.Error(err))
		return s.fallbackSummary("", item)
	}

	firstProvider := ""
	for _, p := range candidates {
		if firstProvider == "" {
			firstProvider = p.Name
		}
		summary, err := s.tryMiniProvider(ctx, p, item)
		if err != nil {
			s.log.Warn("provider failed for summary",
				zap.String("provider", p.Name),
				zap.String("tweet_id", item.TweetID),
				zap.Error(err))
			continue
		}
		return summary
	}
	return s.fallbackSummary(firstProvider, item)
}

func (s *Summarizer) tryMiniProvider(ctx context.Context, p types.ProviderConfig, item *types.BookmarkItem) (*types.ItemSummary, error) {
	client, err := s.factory(p)
	if err != nil {
		return nil, fmt.Errorf("client for %s: %w", p.Name, err)
	}

	system, err := s.prompts.Get("summary.json", "system")
	if err != nil {
		return nil, err
	}
	miniTemplate, err := s.prompts.Get("summary.json", "mini")
	if err != nil {
		return nil, err
	}
	user := prompts.Format(miniTemplate, map[string]string{
		"Author": item.AuthorName,
		"Text":   item.Text,
	})

	raw, err := client.ChatJSON(ctx, llm.Request{
		Model:       p.MiniModel,
		System:      system,
		User:        user,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}
	s.recordSpend(ctx, len(user)+len(raw))

	summary, err := ParseSummary(raw, item.Text)
	if err != nil {
		return nil, err
	}
	if err := ValidateSummaryShape(summary); err != nil {
		return nil, err
	}

	summary.TweetID = item.TweetID
	summary.Version = types.SummaryVersion
	summary.Provider = p.Name
	summary.Model = p.MiniModel
	summary.CreatedAt = s.now()
	summary.QualityScore = scoreSummary(summary)
	summary.Markdown = s.renderMarkdown(ctx, client, p, summary)
	return summary, nil
}

// renderMarkdown asks the same provider for a markdown rendering of the
// validated fields; when that secondary call fails the markdown is composed
// deterministically so the pipeline never returns an empty rendering.
func (s *Summarizer) renderMarkdown(ctx context.Context, client llm.Client, p types.ProviderConfig, summary *types.ItemSummary) string {
	template, err := s.prompts.Get("summary.json", "markdown")
	if err != nil {
		return ComposeMarkdown(summary)
	}
	brief, err := json.Marshal(summary)
	if err != nil {
		return ComposeMarkdown(summary)
	}
	md, err := client.Chat(ctx, llm.Request{
		Model:       p.MiniModel,
		User:        prompts.Format(template, map[string]string{"Brief": string(brief)}),
		Temperature: 0.2,
	})
	if err != nil || strings.TrimSpace(md) == "" {
		s.log.Debug("markdown rendering failed, composing deterministically",
			zap.String("provider", p.Name), zap.Error(err))
		return ComposeMarkdown(summary)
	}
	s.recordSpend(ctx, len(brief)+len(md))
	return md
}

func (s *Summarizer) recordSpend(ctx context.Context, chars int) {
	// Rough token estimate at 4 chars/token and a blended per-token rate.
	cost := float64(chars) / 4 * 2e-6
	if _, err := s.tracker.Record(ctx, cost); err != nil {
		s.log.Warn("failed to record spend", zap.Error(err))
	}
}

// ParseSummary extracts a summary from raw model output. Field values are
// pulled from aliased keys across the known payload roots; derived fields
// fall back through an ordered chain so a sparse payload still yields a
// usable summary.
func ParseSummary(raw, sourceText string) (*types.ItemSummary, error) {
	span := llm.ExtractJSONSpan(raw)
	var payload map[string]any
	if err := json.Unmarshal([]byte(span), &payload); err != nil {
		return nil, fmt.Errorf("summary output is not parseable JSON: %w", err)
	}
	rs := roots(payload)

	summary := &types.ItemSummary{
		OneLinerZh:        lookupString(rs, "one_liner_zh"),
		OneLinerEn:        lookupString(rs, "one_liner_en"),
		CoreViewpoint:     lookupString(rs, "core_viewpoint"),
		UnderlyingProblem: lookupString(rs, "underlying_problem"),
		ReusableInsights:  lookupList(rs, "reusable_insights"),
		LogicPoints:       lookupList(rs, "logic_points"),
		HiddenAssumptions: lookupList(rs, "hidden_assumptions"),
		CounterViews:      lookupList(rs, "counter_views"),
		Claims:            lookupList(rs, "claims"),
		Tags:              lookupList(rs, "tags"),
		ActionItems:       lookupList(rs, "action_items"),
	}

	summary.CoreViewpoint = deriveField(summary.CoreViewpoint, summary)
	summary.UnderlyingProblem = deriveField(summary.UnderlyingProblem, summary)

	summary.ResearchKeywords = NormalizeKeywords(lookupList(rs, "research_keywords"))
	if len(summary.ResearchKeywords) == 0 {
		summary.ResearchKeywords = SynthesizeKeywords(
			summary.Tags,
			lookupList(rs, "key_technologies"),
			lookupList(rs, "libraries"),
			sourceText,
		)
	}
	return summary, nil
}

// deriveField resolves a derived field through the fallback chain: explicit
// value, localized one-liner, first reusable insight, first logic point,
// first hidden assumption, first counter-view, first claim.
func deriveField(explicit string, s *types.ItemSummary) string {
	if usable(explicit) {
		return explicit
	}
	if usable(s.OneLinerZh) {
		return s.OneLinerZh
	}
	for _, list := range [][]string{s.ReusableInsights, s.LogicPoints, s.HiddenAssumptions, s.CounterViews, s.Claims} {
		if len(list) > 0 && usable(list[0]) {
			return list[0]
		}
	}
	return ""
}

func usable(v string) bool {
	return v != "" && !placeholderSentinels[strings.ToLower(strings.TrimSpace(v))]
}

// ValidateSummaryShape rejects a candidate whose required fields are empty
// or placeholder sentinels, forcing fallthrough to the next provider.
func ValidateSummaryShape(s *types.ItemSummary) error {
	if !usable(s.OneLinerZh) {
		return fmt.Errorf("summary shape invalid: empty one-liner")
	}
	if !usable(s.CoreViewpoint) {
		return fmt.Errorf("summary shape invalid: empty core viewpoint")
	}
	if !usable(s.UnderlyingProblem) {
		return fmt.Errorf("summary shape invalid: empty underlying problem")
	}
	return nil
}

// scoreSummary grades how much of the optional structure the model filled
// in. Required fields are already guaranteed by shape validation.
func scoreSummary(s *types.ItemSummary) float64 {
	populated := 0
	if s.OneLinerEn != "" {
		populated++
	}
	for _, list := range [][]string{
		s.ReusableInsights, s.LogicPoints, s.HiddenAssumptions,
		s.CounterViews, s.Claims, s.Tags, s.ActionItems, s.ResearchKeywords,
	} {
		if len(list) > 0 {
			populated++
		}
	}
	score := 0.4 + 0.6*float64(populated)/9
	if score > 1 {
		score = 1
	}
	return score
}

// fallbackSummary is the terminal value when no provider produced a valid
// summary. The provider name is preserved from the first candidate tried.
func (s *Summarizer) fallbackSummary(provider string, item *types.BookmarkItem) *types.ItemSummary {
	oneLiner := "自动摘要暂不可用：" + truncate(item.Text, 80)
	summary := &types.ItemSummary{
		TweetID:           item.TweetID,
		Version:           types.SummaryVersion,
		OneLinerZh:        oneLiner,
		OneLinerEn:        "Automatic summary unavailable: " + truncate(item.Text, 80),
		CoreViewpoint:     truncate(item.Text, 140),
		UnderlyingProblem: "原文要点未能解析，请直接查看原帖。",
		Tags:              []string{"unprocessed"},
		ResearchKeywords:  SynthesizeKeywords(nil, nil, nil, item.Text),
		Provider:          provider,
		Model:             FallbackModel,
		QualityScore:      FallbackQualityScore,
		CreatedAt:         s.now(),
	}
	summary.Markdown = ComposeMarkdown(summary)
	return summary
}

// ComposeMarkdown renders a summary deterministically from its structured
// fields: heading, bullet list, action list, tag line.
func ComposeMarkdown(s *types.ItemSummary) string {
	var sb strings.Builder
	sb.WriteString("## ")
	sb.WriteString(s.OneLinerZh)
	sb.WriteString("\n\n")
	if s.CoreViewpoint != "" {
		sb.WriteString(s.CoreViewpoint)
		sb.WriteString("\n\n")
	}
	if len(s.ReusableInsights) > 0 {
		for _, insight := range s.ReusableInsights {
			sb.WriteString("- ")
			sb.WriteString(insight)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	if len(s.ActionItems) > 0 {
		sb.WriteString("### 行动项\n")
		for _, action := range s.ActionItems {
			sb.WriteString("- [ ] ")
			sb.WriteString(action)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	if len(s.Tags) > 0 {
		sb.WriteString("`")
		sb.WriteString(strings.Join(s.Tags, "` `"))
		sb.WriteString("`\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func truncate(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}
