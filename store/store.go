package store

import (
	"context"
	"time"

	"github.com/jotlabs/memochat/chat/apperr"
	"github.com/jotlabs/memochat/internal/profile"
)

// Store provides durable access to chat sessions, messages, and the memory
// cache. It validates writes before they reach a driver and converts driver
// failures into storage errors so callers can surface a retryable state
// instead of crashing.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.driver.Migrate(ctx); err != nil {
		return apperr.Storage(err, "failed to migrate database")
	}
	return nil
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// PutSession inserts or fully overwrites a session by id. Unless the caller
// set UpdatedTs explicitly, it is refreshed so that any mutation bubbles the
// session to the top of the recency ordering.
func (s *Store) PutSession(ctx context.Context, session *ChatSession) (*ChatSession, error) {
	if session == nil || session.ID == "" {
		return nil, apperr.Validation("session id is required")
	}
	if session.UpdatedTs == 0 {
		session.UpdatedTs = time.Now().UnixMilli()
	}
	saved, err := s.driver.UpsertChatSession(ctx, session)
	if err != nil {
		return nil, apperr.Storage(err, "failed to put session")
	}
	return saved, nil
}

// UpdateSession merges the set fields of update into the stored session and
// returns the merged result. Unset fields are left untouched, so a caller
// holding a stale snapshot cannot clobber unrelated concurrent updates.
func (s *Store) UpdateSession(ctx context.Context, update *UpdateChatSession) (*ChatSession, error) {
	if update == nil || update.ID == "" {
		return nil, apperr.Validation("session id is required")
	}
	if update.UpdatedTs == nil {
		now := time.Now().UnixMilli()
		update.UpdatedTs = &now
	}
	updated, err := s.driver.UpdateChatSession(ctx, update)
	if err != nil {
		return nil, apperr.Storage(err, "failed to update session")
	}
	return updated, nil
}

// ListSessions returns all sessions ordered by UpdatedTs descending.
func (s *Store) ListSessions(ctx context.Context) ([]*ChatSession, error) {
	sessions, err := s.driver.ListChatSessions(ctx, &FindChatSession{})
	if err != nil {
		return nil, apperr.Storage(err, "failed to list sessions")
	}
	return sessions, nil
}

// GetSession returns the session with the given id, or nil when absent.
func (s *Store) GetSession(ctx context.Context, id string) (*ChatSession, error) {
	sessions, err := s.driver.ListChatSessions(ctx, &FindChatSession{ID: &id})
	if err != nil {
		return nil, apperr.Storage(err, "failed to get session")
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

// DeleteSession removes the session and cascades deletion to all of its
// messages atomically.
func (s *Store) DeleteSession(ctx context.Context, chatID string) error {
	if chatID == "" {
		return apperr.Validation("session id is required")
	}
	if err := s.driver.DeleteChatSession(ctx, &DeleteChatSession{ID: chatID}); err != nil {
		return apperr.Storage(err, "failed to delete session")
	}
	return nil
}

// PutMessage inserts or overwrites a message by id. Messages missing a
// required field are rejected before they reach the driver.
func (s *Store) PutMessage(ctx context.Context, message *Message) (*Message, error) {
	if err := message.Validate(); err != nil {
		return nil, err
	}
	if message.CreatedTs == 0 {
		message.CreatedTs = time.Now().UnixMilli()
	}
	saved, err := s.driver.UpsertMessage(ctx, message)
	if err != nil {
		return nil, apperr.Storage(err, "failed to put message")
	}
	return saved, nil
}

// ListMessages returns all messages for a session ordered by CreatedTs
// ascending.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]*Message, error) {
	messages, err := s.driver.ListMessages(ctx, &FindMessage{ChatID: &chatID})
	if err != nil {
		return nil, apperr.Storage(err, "failed to list messages")
	}
	return messages, nil
}

// ReplaceMemoryCache atomically replaces the cached memory snapshot for a
// user. Called after every mutating remote memory operation so the cache
// never shows stale adds or deletes.
func (s *Store) ReplaceMemoryCache(ctx context.Context, userID string, entries []*MemoryEntry) error {
	if userID == "" {
		return apperr.Validation("user id is required")
	}
	if err := s.driver.ReplaceMemoryCache(ctx, userID, entries); err != nil {
		return apperr.Storage(err, "failed to replace memory cache")
	}
	return nil
}

// ListMemoryCache returns the cached memory snapshot for a user.
func (s *Store) ListMemoryCache(ctx context.Context, userID string) ([]*MemoryEntry, error) {
	entries, err := s.driver.ListMemoryCache(ctx, &FindMemoryEntry{UserID: userID})
	if err != nil {
		return nil, apperr.Storage(err, "failed to list memory cache")
	}
	return entries, nil
}
