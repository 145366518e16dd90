package types

import "time"

// Stop reasons reported by the sync orchestrator.
const (
	StopEmptyPage      = "empty_page"
	StopExistingSeen   = "existing_seen"
	StopNoContinuation = "no_continuation"
	StopPageLimit      = "page_limit"
	StopIntervalGate   = "interval_not_elapsed"
	StopNothingToSync  = "nothing_to_sync"
)

// SyncResult is the envelope returned by one incremental sync invocation.
type SyncResult struct {
	Skipped                    bool   `json:"skipped"`
	TotalFetched               int    `json:"total_fetched"`
	TotalInserted              int    `json:"total_inserted"`
	Pages                      int    `json:"pages"`
	DetailsFetched             int    `json:"details_fetched"`
	SummariesWritten           int    `json:"summaries_written"`
	SkippedNoText              int    `json:"skipped_no_text"`
	StoppedOnFirstExistingPage bool   `json:"stopped_on_first_existing_page"`
	StopReason                 string `json:"stop_reason"`

	// Auto-digest cascade outcome; failures here never fail the sync.
	AutoDigestTriggered bool   `json:"auto_digest_triggered"`
	AutoDigestError     string `json:"auto_digest_error,omitempty"`
}

// ResummarizeFilter selects which ingested items to re-run summarization on.
type ResummarizeFilter struct {
	TweetIDs    []string   `json:"tweet_ids,omitempty" validate:"max=500,dive,required"`
	SyncedSince *time.Time `json:"synced_since,omitempty"`
	Overwrite   bool       `json:"overwrite"`
	Limit       int        `json:"limit,omitempty" validate:"min=0,max=500"`
}

// ResummarizeResult tallies one resummarize batch. Errors holds at most 20
// per-item messages so the envelope stays bounded.
type ResummarizeResult struct {
	Selected        int      `json:"selected"`
	Processed       int      `json:"processed"`
	Updated         int      `json:"updated"`
	SkippedExisting int      `json:"skipped_existing"`
	Failed          int      `json:"failed"`
	Errors          []string `json:"errors,omitempty"`
}

// DigestResult is the envelope returned by digest generation.
type DigestResult struct {
	Generated bool          `json:"generated"`
	Reason    string        `json:"reason,omitempty"`
	Report    *DigestReport `json:"report,omitempty"`
}
