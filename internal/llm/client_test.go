package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatJSON_SendsResponseFormatAndCleansFences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "mini-1", payload["model"])
		rf, ok := payload["response_format"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "json_object", rf["type"])

		fmt.Fprint(w, `{"choices":[{"message":{"content":"`+"```json\\n{\\\"a\\\":1}\\n```"+`"}}]}`)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "key", nil)
	out, err := client.ChatJSON(context.Background(), Request{Model: "mini-1", User: "summarize"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, out)
}

func TestChat_OmitsResponseFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, hasFormat := payload["response_format"]
		assert.False(t, hasFormat)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"# markdown"}}]}`)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "key", nil)
	out, err := client.Chat(context.Background(), Request{Model: "mini-1", User: "render"})
	require.NoError(t, err)
	assert.Equal(t, "# markdown", out)
}

func TestChat_UpstreamErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":"upstream exploded"}`)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "key", nil)
	_, err := client.Chat(context.Background(), Request{Model: "mini-1", User: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestChat_EmptyChoicesIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "key", nil)
	_, err := client.Chat(context.Background(), Request{Model: "mini-1", User: "x"})
	require.Error(t, err)
}

func TestChat_MisconfiguredClient(t *testing.T) {
	client := NewHTTPClient("", "", nil)
	_, err := client.Chat(context.Background(), Request{Model: "m", User: "x"})
	require.Error(t, err)
}
