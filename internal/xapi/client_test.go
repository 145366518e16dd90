package xapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/bookmark-agent/internal/types"
)

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

func newTestClient(t *testing.T, handler http.Handler) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var slept []time.Duration
	client := NewClient(staticToken("tok"), ClientOptions{
		BaseURL: srv.URL,
		Sleep:   func(d time.Duration) { slept = append(slept, d) },
	})
	return client, &slept
}

func TestMe_ParsesIdentity(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/me", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"data":{"id":"42","name":"Ada","username":"ada"}}`)
	}))

	me, err := client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", me.ID)
	assert.Equal(t, "ada", me.Username)
}

func TestBookmarkPage_ReturnsIDsAndToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/42/bookmarks", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("max_results"))
		fmt.Fprint(w, `{"data":[{"id":"1"},{"id":"2"}],"meta":{"next_token":"abc"}}`)
	}))

	page, err := client.BookmarkPage(context.Background(), "42", "", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, page.TweetIDs)
	assert.Equal(t, "abc", page.NextToken)
}

func TestGet_RetriesOn429WithFixedSchedule(t *testing.T) {
	var calls int
	client, slept := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"data":{"id":"42","name":"Ada","username":"ada"}}`)
	}))

	_, err := client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{60 * time.Second, 300 * time.Second}, *slept)
}

func TestGet_ExhaustedScheduleIsServiceUnavailable(t *testing.T) {
	var calls int
	client, slept := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.Me(context.Background())
	var unavailable *types.ErrServiceUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, http.StatusTooManyRequests, unavailable.Status)
	// Initial attempt plus one retry per schedule entry.
	assert.Equal(t, 4, calls)
	assert.Len(t, *slept, 3)
}

func TestGet_NonRetryableCarriesDetail(t *testing.T) {
	client, slept := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"title":"Forbidden","detail":"bookmarks scope missing"}`)
	}))

	_, err := client.Me(context.Background())
	var unavailable *types.ErrServiceUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, http.StatusForbidden, unavailable.Status)
	assert.Equal(t, "Forbidden", unavailable.Detail)
	assert.Empty(t, *slept)
}

func TestTweetDetails_ChunksAtHundred(t *testing.T) {
	var batchSizes []int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids := r.URL.Query().Get("ids")
		count := 1
		for _, ch := range ids {
			if ch == ',' {
				count++
			}
		}
		batchSizes = append(batchSizes, count)
		fmt.Fprint(w, `{"data":[],"includes":{"users":[]}}`)
	}))

	ids := make([]string, 250)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", i)
	}
	_, err := client.TweetDetails(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 100, 50}, batchSizes)
}

func TestTweetDetails_HydratesAuthorAndURL(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"data":[{"id":"7","text":"hello","author_id":"42","created_at":"2026-08-01T12:00:00Z"}],
			"includes":{"users":[{"id":"42","name":"Ada Lovelace","username":"ada"}]}
		}`)
	}))

	details, err := client.TweetDetails(context.Background(), []string{"7"})
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "Ada Lovelace", details[0].AuthorName)
	assert.Equal(t, "https://x.com/ada/status/7", details[0].URL)
	assert.Equal(t, 2026, details[0].CreatedAt.Year())
	assert.NotEmpty(t, details[0].Raw)
}

func TestExtractErrorDetail(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"error string", `{"error":"boom"}`, "boom"},
		{"error object", `{"error":{"message":"nested boom"}}`, "nested boom"},
		{"title", `{"title":"Too Many Requests"}`, "Too Many Requests"},
		{"detail", `{"detail":"rate limit exceeded"}`, "rate limit exceeded"},
		{"errors array", `{"errors":[{"message":"first"},{"message":"second"}]}`, "first"},
		{"raw fallback", `plain text failure`, "plain text failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractErrorDetail([]byte(tt.body)))
		})
	}
}
