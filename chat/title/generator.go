// Package title turns the opening exchange of a session into a short,
// human-readable session title.
package title

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jotlabs/memochat/chat/apperr"
	"github.com/jotlabs/memochat/llm"
)

const (
	generateTimeout = 15 * time.Second
	inputMaxLen     = 500
	titleMaxRunes   = 50
)

const systemPrompt = `You generate concise titles for chat conversations.
Given the first exchange of a conversation, respond with a title of at most
six words that captures its topic. Respond with the title only: no quotes,
no punctuation at the end, no explanation.`

// cleanupPattern strips the wrapping whitespace, quotes, and backticks that
// models habitually add around a requested bare title.
var cleanupPattern = regexp.MustCompile("^[\\s\"'`]*(.*?)[\\s\"'`]*$")

// Generator produces session titles through a low-temperature model call.
type Generator struct {
	service llm.Service
}

// New creates a Generator. The service should be configured with the title
// model and a low temperature; the generator does not override either.
func New(service llm.Service) *Generator {
	return &Generator{service: service}
}

// Generate derives a title from the first user message and, when available,
// the assistant's reply. Inputs are truncated before prompting so a pasted
// wall of text cannot blow up the title request.
func (g *Generator) Generate(ctx context.Context, userMessage, assistantReply string) (string, error) {
	if strings.TrimSpace(userMessage) == "" {
		return "", apperr.Validation("cannot generate a title without a user message")
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	prompt := fmt.Sprintf("User message: %s", truncate(userMessage))
	if assistantReply != "" {
		prompt = fmt.Sprintf("%s\n\nAssistant reply: %s", prompt, truncate(assistantReply))
	}

	start := time.Now()
	raw, _, err := g.service.Chat(ctx, []llm.Message{
		llm.SystemPrompt(systemPrompt),
		llm.UserMessage(prompt),
	})
	if err != nil {
		slog.Error("title generation failed", "error", err, "latency_ms", time.Since(start).Milliseconds())
		return "", err
	}

	title := Cleanup(raw)
	slog.Debug("title generated", "title", title, "latency_ms", time.Since(start).Milliseconds())
	return title, nil
}

// Cleanup strips wrapping quote characters and clamps the title to a
// display-safe rune count.
func Cleanup(raw string) string {
	title := raw
	if match := cleanupPattern.FindStringSubmatch(raw); match != nil {
		title = match[1]
	}
	title = strings.TrimSpace(title)

	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		title = string(runes[:titleMaxRunes])
	}
	return title
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= inputMaxLen {
		return s
	}
	return string(runes[:inputMaxLen]) + "..."
}
