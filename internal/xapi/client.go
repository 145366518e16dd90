// Package xapi wraps the external bookmark/tweet API: identity lookup,
// paginated bookmark listing, and batched tweet hydration, with bounded
// retry on rate limiting.
package xapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/bookmark-agent/internal/types"
)

// detailChunkSize is the upstream limit on IDs per tweet-detail request.
const detailChunkSize = 100

// backoffSchedule is the fixed wait sequence applied on HTTP 429. The
// schedule length bounds the retries.
var backoffSchedule = []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}

// TokenSource supplies a usable access token for each request.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Identity is the external account the token belongs to.
type Identity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// BookmarkPage is one page of bookmark tweet IDs plus the opaque
// continuation token, when more pages exist.
type BookmarkPage struct {
	TweetIDs  []string
	NextToken string
}

// TweetDetail is the hydrated form of one tweet.
type TweetDetail struct {
	ID         string
	Text       string
	AuthorName string
	CreatedAt  time.Time
	URL        string
	Raw        json.RawMessage
}

// Client calls the external API. It knows nothing about persistence or
// summarization.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	sleep   func(time.Duration)
	log     *zap.Logger
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	// Sleep is called between 429 retries; tests inject a no-op.
	Sleep  func(time.Duration)
	Logger *zap.Logger
}

// NewClient builds an API client that authenticates via the token source.
func NewClient(tokens TokenSource, opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		sleep:   sleep,
		log:     log,
	}
}

// Me fetches the identity of the connected account.
func (c *Client) Me(ctx context.Context) (*Identity, error) {
	body, err := c.get(ctx, "/users/me", nil)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Data Identity `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse identity response: %w", err)
	}
	if envelope.Data.ID == "" {
		return nil, &types.ErrServiceUnavailable{Upstream: "bookmark-api", Detail: "identity response missing user id"}
	}
	return &envelope.Data, nil
}

// BookmarkPage fetches one page of bookmark IDs for the user. Pass the
// continuation token from the previous page, or empty for the first page.
func (c *Client) BookmarkPage(ctx context.Context, userID, paginationToken string, pageSize int) (*BookmarkPage, error) {
	query := url.Values{}
	query.Set("max_results", fmt.Sprintf("%d", pageSize))
	query.Set("tweet.fields", "id")
	if paginationToken != "" {
		query.Set("pagination_token", paginationToken)
	}
	body, err := c.get(ctx, fmt.Sprintf("/users/%s/bookmarks", userID), query)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
		Meta struct {
			NextToken string `json:"next_token"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse bookmark page: %w", err)
	}

	page := &BookmarkPage{NextToken: envelope.Meta.NextToken}
	for _, d := range envelope.Data {
		if d.ID != "" {
			page.TweetIDs = append(page.TweetIDs, d.ID)
		}
	}
	return page, nil
}

// TweetDetails hydrates full tweet details for the given IDs, chunked at the
// upstream batch limit.
func (c *Client) TweetDetails(ctx context.Context, ids []string) ([]TweetDetail, error) {
	var details []TweetDetail
	for start := 0; start < len(ids); start += detailChunkSize {
		end := start + detailChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk, err := c.tweetDetailChunk(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		details = append(details, chunk...)
	}
	return details, nil
}

func (c *Client) tweetDetailChunk(ctx context.Context, ids []string) ([]TweetDetail, error) {
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("tweet.fields", "created_at,author_id,text")
	query.Set("expansions", "author_id")
	query.Set("user.fields", "name,username")
	body, err := c.get(ctx, "/tweets", query)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data []struct {
			ID        string `json:"id"`
			Text      string `json:"text"`
			AuthorID  string `json:"author_id"`
			CreatedAt string `json:"created_at"`
		} `json:"data"`
		Includes struct {
			Users []struct {
				ID       string `json:"id"`
				Name     string `json:"name"`
				Username string `json:"username"`
			} `json:"users"`
		} `json:"includes"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse tweet details: %w", err)
	}

	authors := make(map[string]struct{ name, username string }, len(envelope.Includes.Users))
	for _, u := range envelope.Includes.Users {
		authors[u.ID] = struct{ name, username string }{u.Name, u.Username}
	}

	// Keep the raw per-tweet payloads for the opaque rawPayload column.
	var rawEnvelope struct {
		Data []json.RawMessage `json:"data"`
	}
	_ = json.Unmarshal(body, &rawEnvelope)

	details := make([]TweetDetail, 0, len(envelope.Data))
	for i, d := range envelope.Data {
		detail := TweetDetail{ID: d.ID, Text: d.Text}
		if d.CreatedAt != "" {
			if t, err := time.Parse(time.RFC3339, d.CreatedAt); err == nil {
				detail.CreatedAt = t
			}
		}
		author, ok := authors[d.AuthorID]
		if ok {
			detail.AuthorName = author.name
			detail.URL = fmt.Sprintf("https://x.com/%s/status/%s", author.username, d.ID)
		} else {
			detail.URL = fmt.Sprintf("https://x.com/i/web/status/%s", d.ID)
		}
		if i < len(rawEnvelope.Data) {
			detail.Raw = rawEnvelope.Data[i]
		}
		details = append(details, detail)
	}
	return details, nil
}

// get performs an authenticated GET with bounded retry on 429. Any other
// failure, or exhaustion of the backoff schedule, becomes
// ErrServiceUnavailable.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &types.ErrServiceUnavailable{Upstream: "bookmark-api", Cause: err}
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, &types.ErrServiceUnavailable{Upstream: "bookmark-api", Status: resp.StatusCode, Cause: readErr}
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests && attempt < len(backoffSchedule):
			wait := backoffSchedule[attempt]
			c.log.Warn("rate limited by bookmark api, backing off",
				zap.Duration("wait", wait),
				zap.Int("attempt", attempt+1))
			c.sleep(wait)
		default:
			return nil, &types.ErrServiceUnavailable{
				Upstream: "bookmark-api",
				Status:   resp.StatusCode,
				Detail:   extractErrorDetail(body),
			}
		}
	}
}

// extractErrorDetail pulls a human-readable message out of the common error
// envelope shapes, falling back to the truncated raw body.
func extractErrorDetail(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		if s := stringField(payload["error"]); s != "" {
			return s
		}
		if s := stringField(payload["title"]); s != "" {
			return s
		}
		if s := stringField(payload["detail"]); s != "" {
			return s
		}
		if errs, ok := payload["errors"].([]any); ok {
			for _, e := range errs {
				if m, ok := e.(map[string]any); ok {
					if s := stringField(m["message"]); s != "" {
						return s
					}
				}
			}
		}
	}
	raw := strings.TrimSpace(string(body))
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return raw
}

// stringField accepts either a plain string or an object with a "message"
// key, since upstreams disagree on the envelope shape.
func stringField(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case map[string]any:
		if s, ok := val["message"].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
