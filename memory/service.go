// Package memory integrates the remote long-term memory API and keeps the
// local cache snapshot in sync with it. Every operation is scoped to a user
// id; no call crosses user boundaries.
package memory

import (
	"context"
	"time"
)

// Memory is a single long-term memory record from the remote service.
type Memory struct {
	ID        string    `json:"id"`
	Text      string    `json:"memory"`
	CreatedAt time.Time `json:"created_at"`
	Score     float64   `json:"score,omitempty"`
}

// Service is the long-term memory interface consumed by the request composer
// and the memory management surface.
type Service interface {
	// Search returns the memories most relevant to the query, best first.
	Search(ctx context.Context, userID, query string, limit int) ([]Memory, error)

	// Add submits conversation content for memory extraction.
	Add(ctx context.Context, userID string, messages []MessageInput) error

	// Delete removes a single memory by id.
	Delete(ctx context.Context, userID, memoryID string) error

	// ListAll returns every memory stored for the user.
	ListAll(ctx context.Context, userID string) ([]Memory, error)
}

// MessageInput is a conversation message submitted for extraction.
type MessageInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
