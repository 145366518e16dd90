// Package types defines the domain model shared across the sync engine,
// the normalization pipeline, and the HTTP layer.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SummaryVersion is the current summary schema version. Summaries are keyed
// by (tweetID, version) so a future schema change can coexist with old rows.
const SummaryVersion = 1

// BookmarkItem is one persisted bookmarked post, keyed by its external tweet
// ID. Inserted once on first sync and immutable afterwards; only the
// resummarize flow touches its summary.
type BookmarkItem struct {
	TweetID           string    `json:"tweet_id"`
	CreatedAtExternal time.Time `json:"created_at_external"`
	AuthorName        string    `json:"author_name"`
	Text              string    `json:"text"`
	URL               string    `json:"url"`
	RawPayload        []byte    `json:"raw_payload,omitempty"`
	SyncedAt          time.Time `json:"synced_at"`
}

// ItemSummary is the structured, model-generated synopsis of one bookmark.
// At most one live row per (tweetID, version).
type ItemSummary struct {
	TweetID string `json:"tweet_id"`
	Version int    `json:"version"`

	OneLinerZh        string   `json:"one_liner_zh"`
	OneLinerEn        string   `json:"one_liner_en"`
	CoreViewpoint     string   `json:"core_viewpoint"`
	UnderlyingProblem string   `json:"underlying_problem"`
	ReusableInsights  []string `json:"reusable_insights"`
	LogicPoints       []string `json:"logic_points"`
	HiddenAssumptions []string `json:"hidden_assumptions"`
	CounterViews      []string `json:"counter_views"`
	Claims            []string `json:"claims"`
	Tags              []string `json:"tags"`
	ActionItems       []string `json:"action_items"`
	ResearchKeywords  []string `json:"research_keywords"`

	Markdown     string    `json:"markdown"`
	QualityScore float64   `json:"quality_score"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
}

// DigestPeriod is the granularity of a digest report.
type DigestPeriod string

// Digest period constants.
const (
	PeriodDaily  DigestPeriod = "daily"
	PeriodWeekly DigestPeriod = "weekly"
)

// PeriodKey returns the calendar key identifying the period containing t:
// "2006-01-02" for daily, "2006-W02" (ISO week) for weekly.
func (p DigestPeriod) PeriodKey(t time.Time) string {
	if p == PeriodWeekly {
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	}
	return t.Format("2006-01-02")
}

// Window returns the start of the time range a digest for period key at t
// should aggregate over.
func (p DigestPeriod) Window(t time.Time) time.Time {
	if p == PeriodWeekly {
		return t.Add(-7 * 24 * time.Hour)
	}
	return t.Add(-24 * time.Hour)
}

// DigestHighlight is one highlighted item inside a digest.
type DigestHighlight struct {
	TweetID  string `json:"tweet_id"`
	Reason   string `json:"reason"`
	NextStep string `json:"next_step"`
}

// DigestReport is a periodic aggregation of summaries. At most one report per
// (period, periodKey).
type DigestReport struct {
	Period      DigestPeriod      `json:"period"`
	PeriodKey   string            `json:"period_key"`
	Themes      []string          `json:"themes"`
	Highlights  []DigestHighlight `json:"highlights"`
	Risks       []string          `json:"risks"`
	Actions     []string          `json:"actions"`
	ItemCount   int               `json:"item_count"`
	Provider    string            `json:"provider"`
	Model       string            `json:"model"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Job statuses. A run transitions RUNNING -> {SUCCESS|FAILED} exactly once
// and never reverts.
const (
	JobRunning = "RUNNING"
	JobSuccess = "SUCCESS"
	JobFailed  = "FAILED"
)

// JobRun is one ledgered execution of a named pipeline operation.
type JobRun struct {
	ID           uuid.UUID      `json:"id"`
	JobName      string         `json:"job_name"`
	Status       string         `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Error        string         `json:"error,omitempty"`
	RetryCount   int            `json:"retry_count"`
	CostEstimate float64        `json:"cost_estimate"`
}

// ProviderConfig is one configured model backend. Credential is stored
// encrypted; Priority orders selection (lower = preferred under normal
// budget).
type ProviderConfig struct {
	Name                string  `json:"name"`
	BaseURL             string  `json:"base_url"`
	EncryptedCredential string  `json:"-"`
	MiniModel           string  `json:"mini_model"`
	DigestModel         string  `json:"digest_model"`
	Enabled             bool    `json:"enabled"`
	Priority            int     `json:"priority"`
	MonthlyBudget       float64 `json:"monthly_budget"`
}

// TokenBundle is the OAuth token state for the external bookmark account,
// persisted in the KV store as one value so a replace is all-or-nothing.
type TokenBundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id,omitempty"`
}

// Expired reports whether the access token is past its expiry at instant now.
func (t *TokenBundle) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && t.ExpiresAt.Before(now)
}
