// Package llm wraps the OpenAI-compatible chat completion API used by every
// supported provider. Providers differ only in base URL and credential, so a
// single client covers google, openrouter, and openai model entries.
package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/jotlabs/memochat/chat/apperr"
)

// Message is a provider-neutral chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// CallStats carries token usage and timing for a single completion call.
type CallStats struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	// ThinkingDurationMs is the time from request start to first delta.
	ThinkingDurationMs int64 `json:"thinking_duration_ms"`
	// GenerationDurationMs is the time from first delta to completion.
	GenerationDurationMs int64 `json:"generation_duration_ms,omitempty"`
	TotalDurationMs      int64 `json:"total_duration_ms"`
}

// Service is the completion interface consumed by the stream engine and the
// title generator.
type Service interface {
	// Chat performs a synchronous completion.
	Chat(ctx context.Context, messages []Message) (string, *CallStats, error)

	// ChatStream performs a streaming completion. Deltas arrive on the
	// content channel in order; the stats channel delivers at most one
	// value when the stream finishes cleanly; the error channel delivers
	// at most one value when it does not. All three close when the call
	// is over.
	ChatStream(ctx context.Context, messages []Message) (<-chan string, <-chan *CallStats, <-chan error)
}

// Config selects the provider endpoint and generation parameters.
type Config struct {
	Provider    string // google, openrouter, openai
	Model       string // provider-native model id
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default 2048
	Temperature float32 // default 0.7
	Timeout     int     // request timeout in seconds, default 120
}

type service struct {
	client      *openai.Client
	model       string
	provider    string
	maxTokens   int
	temperature float32
	timeout     int
}

// NewService creates a Service for one provider and model.
func NewService(cfg *Config) (Service, error) {
	if cfg.APIKey == "" {
		return nil, apperr.Newf(apperr.KindConfiguration, "no API key configured for provider %q", cfg.Provider)
	}

	httpClient := newHTTPClient()

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.HTTPClient = httpClient

	switch cfg.Provider {
	case "google":
		// Gemini's OpenAI-compatible surface.
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
		}
		clientConfig.BaseURL = baseURL

	case "openrouter":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		clientConfig.BaseURL = baseURL

	case "openai":
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}

	default:
		// Any other OpenAI-compatible endpoint works as long as a base
		// URL is supplied.
		slog.Info("using generic OpenAI-compatible provider", "provider", cfg.Provider)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}

	return &service{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		provider:    cfg.Provider,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
	}, nil
}

func (s *service) Chat(ctx context.Context, messages []Message) (string, *CallStats, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	startTime := time.Now()

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Messages:    convertMessages(messages),
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("chat completion failed", "provider", s.provider, "model", s.model, "error", err)
		return "", nil, apperr.Transport(err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return "", nil, apperr.New(apperr.KindTransport, "empty response from model")
	}

	totalDuration := time.Since(startTime)
	stats := &CallStats{
		PromptTokens:       resp.Usage.PromptTokens,
		CompletionTokens:   resp.Usage.CompletionTokens,
		TotalTokens:        resp.Usage.TotalTokens,
		ThinkingDurationMs: totalDuration.Milliseconds(),
		TotalDurationMs:    totalDuration.Milliseconds(),
	}
	return resp.Choices[0].Message.Content, stats, nil
}

func (s *service) ChatStream(ctx context.Context, messages []Message) (<-chan string, <-chan *CallStats, <-chan error) {
	contentChan := make(chan string, 10)
	statsChan := make(chan *CallStats, 1)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(statsChan)
		defer close(errChan)

		ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		req := openai.ChatCompletionRequest{
			Model:       s.model,
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
			Messages:    convertMessages(messages),
			StreamOptions: &openai.StreamOptions{
				IncludeUsage: true,
			},
		}

		startTime := time.Now()
		var firstChunkTime time.Time

		stream, err := s.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			slog.Error("stream open failed", "provider", s.provider, "model", s.model, "error", err)
			select {
			case errChan <- apperr.Transport(err, "failed to open stream"):
			case <-ctx.Done():
			}
			return
		}
		defer func() { _ = stream.Close() }()

		chunkCount := 0

		finish := func(promptTokens, completionTokens, totalTokens int) {
			totalDuration := time.Since(startTime)
			var thinkingMs, generationMs int64
			if !firstChunkTime.IsZero() {
				thinkingMs = firstChunkTime.Sub(startTime).Milliseconds()
				generationMs = time.Since(firstChunkTime).Milliseconds()
			}
			statsChan <- &CallStats{
				PromptTokens:         promptTokens,
				CompletionTokens:     completionTokens,
				TotalTokens:          totalTokens,
				ThinkingDurationMs:   thinkingMs,
				GenerationDurationMs: generationMs,
				TotalDurationMs:      totalDuration.Milliseconds(),
			}
		}

		for {
			response, err := stream.Recv()
			if err != nil {
				if streamDone(err) {
					slog.Debug("stream completed", "chunks", chunkCount, "duration_ms", time.Since(startTime).Milliseconds())
					finish(0, 0, 0)
					return
				}
				slog.Error("stream receive failed", "error", err, "chunks_so_far", chunkCount)
				select {
				case errChan <- apperr.Transport(err, "stream receive failed"):
				case <-ctx.Done():
				}
				return
			}

			if firstChunkTime.IsZero() && len(response.Choices) > 0 && response.Choices[0].Delta.Content != "" {
				firstChunkTime = time.Now()
			}

			// The final usage frame has no choices, only token totals.
			if response.Usage != nil && response.Usage.TotalTokens > 0 {
				finish(response.Usage.PromptTokens, response.Usage.CompletionTokens, response.Usage.TotalTokens)
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			if delta := response.Choices[0].Delta.Content; delta != "" {
				chunkCount++
				select {
				case contentChan <- delta:
				case <-ctx.Done():
					slog.Warn("stream cancelled mid send", "chunks", chunkCount)
					return
				}
			}

			if response.Choices[0].FinishReason != "" {
				// Some providers never send a usage frame.
				finish(0, 0, 0)
				return
			}
		}
	}()

	return contentChan, statsChan, errChan
}

// streamDone reports whether a receive error marks the clean end of the
// stream. An io.ErrUnexpectedEOF from a dropped connection is a failure, not
// a completion.
func streamDone(err error) bool {
	return errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF)
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		converted[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return converted
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// SystemPrompt builds a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage builds an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}
