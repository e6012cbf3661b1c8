package store

import (
	"context"
	"database/sql"
)

// Driver is the database access interface implemented by store/db/sqlite and
// store/db/postgres. All methods return raw driver errors; the Store facade
// is responsible for classifying them.
type Driver interface {
	GetDB() *sql.DB
	Migrate(ctx context.Context) error
	Close() error

	// Chat sessions.
	UpsertChatSession(ctx context.Context, session *ChatSession) (*ChatSession, error)
	ListChatSessions(ctx context.Context, find *FindChatSession) ([]*ChatSession, error)
	UpdateChatSession(ctx context.Context, update *UpdateChatSession) (*ChatSession, error)
	// DeleteChatSession removes the session and all of its messages in one
	// transaction: either both are gone or neither is.
	DeleteChatSession(ctx context.Context, delete *DeleteChatSession) error

	// Messages.
	UpsertMessage(ctx context.Context, message *Message) (*Message, error)
	// ListMessages returns messages ordered by created_ts ascending, id
	// ascending on ties.
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)

	// Memory cache.
	// ReplaceMemoryCache atomically clears all entries for the user and
	// inserts the new snapshot.
	ReplaceMemoryCache(ctx context.Context, userID string, entries []*MemoryEntry) error
	ListMemoryCache(ctx context.Context, find *FindMemoryEntry) ([]*MemoryEntry, error)
}
