package normalize

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/bookmark-agent/internal/types"
)

func testSummaries() []*types.ItemSummary {
	return []*types.ItemSummary{
		{TweetID: "1", OneLinerZh: "条目一", CoreViewpoint: "观点一", Tags: []string{"llm", "agents"}},
		{TweetID: "2", OneLinerZh: "条目二", CoreViewpoint: "观点二", Tags: []string{"llm"}},
		{TweetID: "3", OneLinerZh: "条目三", CoreViewpoint: "观点三", Tags: []string{"infra"}},
	}
}

const goodDigestJSON = `{
	"themes": ["大模型应用", "基础设施"],
	"highlights": [
		{"tweet_id": "1", "reason": "最有启发", "next_step": "复现实验"},
		{"tweet_id": "3", "reason": "值得跟进"}
	],
	"risks": ["过度乐观"],
	"actions": ["整理阅读清单"]
}`

func TestDigest_HappyPath(t *testing.T) {
	client := &scriptClient{responses: []scriptResponse{{out: goodDigestJSON}}}
	s := newTestSummarizer(t, map[string]*scriptClient{"alpha": client},
		[]types.ProviderConfig{testProvider("alpha", 10)}, 0)

	report := s.Digest(context.Background(), types.PeriodDaily, "2026-08-29", testSummaries())

	assert.Equal(t, types.PeriodDaily, report.Period)
	assert.Equal(t, "2026-08-29", report.PeriodKey)
	assert.Equal(t, "alpha", report.Provider)
	assert.Equal(t, "alpha-large", report.Model)
	assert.Equal(t, 3, report.ItemCount)
	assert.Equal(t, []string{"大模型应用", "基础设施"}, report.Themes)
	require.Len(t, report.Highlights, 2)
	assert.Equal(t, "1", report.Highlights[0].TweetID)
	assert.Equal(t, "复现实验", report.Highlights[0].NextStep)
	assert.Equal(t, 1, client.calls)
}

func TestDigest_ExhaustedBudgetSkipsModelEntirely(t *testing.T) {
	// Combined ceiling is 20; spend of 25 pushes the ratio past 1.0, so no
	// client call is made at all.
	alpha := &scriptClient{responses: []scriptResponse{{out: goodDigestJSON}}}
	beta := &scriptClient{responses: []scriptResponse{{out: goodDigestJSON}}}
	s := newTestSummarizer(t,
		map[string]*scriptClient{"alpha": alpha, "beta": beta},
		[]types.ProviderConfig{testProvider("alpha", 10), testProvider("beta", 20)}, 25)

	report := s.Digest(context.Background(), types.PeriodDaily, "2026-08-29", testSummaries())

	assert.Zero(t, alpha.calls)
	assert.Zero(t, beta.calls)
	assert.Equal(t, FallbackModel, report.Model)
	assert.Equal(t, 3, report.ItemCount)
}

func TestDigest_AllProvidersFailYieldsFallback(t *testing.T) {
	s := newTestSummarizer(t,
		map[string]*scriptClient{
			"alpha": {responses: []scriptResponse{{err: errors.New("down")}}},
		},
		[]types.ProviderConfig{testProvider("alpha", 10)}, 0)

	report := s.Digest(context.Background(), types.PeriodWeekly, "2026-W35", testSummaries())

	assert.Equal(t, FallbackModel, report.Model)
	assert.Equal(t, types.PeriodWeekly, report.Period)
	// Most frequent tag first, ties alphabetical.
	assert.Equal(t, []string{"llm", "agents", "infra"}, report.Themes)
	require.NotEmpty(t, report.Highlights)
	assert.Equal(t, "1", report.Highlights[0].TweetID)
	assert.Equal(t, "条目一", report.Highlights[0].Reason)
}

func TestParseDigest_CapsSections(t *testing.T) {
	raw := `{
		"themes": ["t1", "t2", "t3", "t4", "t5", "t6", "t7"],
		"highlights": [
			{"tweet_id": "1", "reason": "r"}, {"tweet_id": "2", "reason": "r"},
			{"tweet_id": "3", "reason": "r"}, {"tweet_id": "4", "reason": "r"},
			{"tweet_id": "5", "reason": "r"}, {"tweet_id": "6", "reason": "r"}
		],
		"risks": ["a", "b", "c", "d", "e", "f"]
	}`
	report, err := ParseDigest(raw)
	require.NoError(t, err)
	assert.Len(t, report.Themes, maxDigestSection)
	assert.Len(t, report.Highlights, maxDigestSection)
	assert.Len(t, report.Risks, maxDigestSection)
}

func TestParseDigest_HighlightShapes(t *testing.T) {
	t.Run("plain string highlights", func(t *testing.T) {
		report, err := ParseDigest(`{"highlights": ["值得一看的帖子"]}`)
		require.NoError(t, err)
		require.Len(t, report.Highlights, 1)
		assert.Equal(t, "值得一看的帖子", report.Highlights[0].Reason)
	})

	t.Run("wrapped under result", func(t *testing.T) {
		report, err := ParseDigest(`{"result": {"themes": ["主题"], "highlights": []}}`)
		require.NoError(t, err)
		assert.Equal(t, []string{"主题"}, report.Themes)
	})

	t.Run("empty payload rejected", func(t *testing.T) {
		_, err := ParseDigest(`{"something_else": true}`)
		assert.Error(t, err)
	})
}
