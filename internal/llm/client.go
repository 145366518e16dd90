// Package llm provides the chat-completions client used for summarization.
// Providers are configured at runtime; every provider speaks the
// OpenAI-compatible wire format.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is an abstraction over a single configured model provider.
type Client interface {
	// Chat generates free-form text.
	Chat(ctx context.Context, req Request) (string, error)
	// ChatJSON generates text with a JSON-object response-format hint and
	// strips any markdown fences from the result.
	ChatJSON(ctx context.Context, req Request) (string, error)
}

// Request is one chat-completions call.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float64
}

// HTTPClient implements Client against an OpenAI-compatible endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client for one provider endpoint.
func NewHTTPClient(baseURL, apiKey string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat generates free-form text.
func (c *HTTPClient) Chat(ctx context.Context, req Request) (string, error) {
	return c.complete(ctx, req, false)
}

// ChatJSON generates JSON content and cleans any markdown wrapper.
func (c *HTTPClient) ChatJSON(ctx context.Context, req Request) (string, error) {
	text, err := c.complete(ctx, req, true)
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

func (c *HTTPClient) complete(ctx context.Context, req Request, wantJSON bool) (string, error) {
	if c.apiKey == "" || c.baseURL == "" || req.Model == "" {
		return "", fmt.Errorf("llm client misconfigured")
	}

	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	payload := chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if wantJSON {
		payload.ResponseFormat = map[string]any{"type": "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		detail := strings.TrimSpace(string(respBody))
		if len(detail) > 200 {
			detail = detail[:200]
		}
		return "", fmt.Errorf("chat completion error %s: %s", resp.Status, detail)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in chat response")
	}
	content := parsed.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("empty content in chat response")
	}
	return content, nil
}
