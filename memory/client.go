package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/jotlabs/memochat/chat/apperr"
)

const defaultTimeout = 10 * time.Second

// Client talks to a mem0-compatible memory API over HTTP. Requests are rate
// limited so a burst of chat turns cannot hammer the remote service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientConfig holds the remote memory endpoint settings.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	// RequestsPerSecond bounds outbound call rate, default 5 with a burst
	// of 10.
	RequestsPerSecond float64
}

// NewClient creates a memory API client.
func NewClient(cfg ClientConfig) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 10),
	}
}

func (c *Client) Search(ctx context.Context, userID, query string, limit int) ([]Memory, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	body, err := c.do(ctx, http.MethodPost, "/v1/memories/search/", map[string]any{
		"query":   query,
		"user_id": userID,
		"limit":   limit,
	})
	if err != nil {
		return nil, err
	}
	memories, err := decodeMemories(body)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(memories) > limit {
		memories = memories[:limit]
	}
	return memories, nil
}

func (c *Client) Add(ctx context.Context, userID string, messages []MessageInput) error {
	if userID == "" {
		return apperr.Validation("user id is required")
	}
	if len(messages) == 0 {
		return apperr.Validation("no messages to add")
	}
	_, err := c.do(ctx, http.MethodPost, "/v1/memories/", map[string]any{
		"messages": messages,
		"user_id":  userID,
	})
	return err
}

func (c *Client) Delete(ctx context.Context, userID, memoryID string) error {
	if userID == "" {
		return apperr.Validation("user id is required")
	}
	if memoryID == "" {
		return apperr.Validation("memory id is required")
	}
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/memories/%s/", url.PathEscape(memoryID)), nil)
	return err
}

func (c *Client) ListAll(ctx context.Context, userID string) ([]Memory, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	body, err := c.do(ctx, http.MethodGet, "/v1/memories/?user_id="+url.QueryEscape(userID), nil)
	if err != nil {
		return nil, err
	}
	return decodeMemories(body)
}

// do performs one rate-limited API call and returns the response body.
// Failures come back as memory-kind errors so callers degrade instead of
// aborting the chat flow.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperr.Memory(err, "rate limit wait interrupted")
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, apperr.Memory(err, "failed to encode request")
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, apperr.Memory(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Memory(err, "memory API unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Memory(err, "failed to read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Newf(apperr.KindMemory, "memory API returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// decodeMemories accepts both response shapes the API emits: a bare array
// and an object wrapping the array in a results field.
func decodeMemories(body []byte) ([]Memory, error) {
	if len(body) == 0 {
		return nil, nil
	}

	var bare []Memory
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, nil
	}

	var wrapped struct {
		Results []Memory `json:"results"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, apperr.Memory(err, "unrecognized memory API response shape")
	}
	return wrapped.Results, nil
}
