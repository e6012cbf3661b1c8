// Package registry keeps the authoritative in-memory mirror of the session
// collection for the process lifetime. Every mutation writes the store and
// the mirror in the same call frame, so the two can never be observed
// disagreeing between turns.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/jotlabs/memochat/chat/apperr"
	"github.com/jotlabs/memochat/store"
)

// Registry mirrors the session collection and tracks the active session.
type Registry struct {
	store *store.Store

	mu       sync.RWMutex
	sessions []*store.ChatSession
	activeID string
}

// New creates a registry over the given store. Call Bootstrap before use.
func New(chatStore *store.Store) *Registry {
	return &Registry{store: chatStore}
}

// Bootstrap loads the persisted sessions and applies the first-load rule:
// when zero sessions exist, exactly one is created and made active, so the
// user is never left without a way to start chatting.
func (r *Registry) Bootstrap(ctx context.Context) error {
	sessions, err := r.store.ListSessions(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = sessions
	if len(r.sessions) == 0 {
		session, err := r.createLocked(ctx)
		if err != nil {
			return err
		}
		r.activeID = session.ID
		slog.Info("bootstrapped with a fresh session", "chat_id", session.ID)
		return nil
	}

	// Most recent session becomes active on load.
	r.activeID = r.sessions[0].ID
	return nil
}

// createLocked persists a new default session and inserts it into the
// mirror. Caller holds r.mu.
func (r *Registry) createLocked(ctx context.Context) (*store.ChatSession, error) {
	session := &store.ChatSession{
		ID:        shortuuid.New(),
		Title:     store.DefaultSessionTitle,
		UpdatedTs: time.Now().UnixMilli(),
	}
	saved, err := r.store.PutSession(ctx, session)
	if err != nil {
		return nil, err
	}
	r.sessions = append(r.sessions, saved)
	r.sortLocked()
	return saved, nil
}

// CreateSession generates a new session with the default title, no model
// override, and memories off; persists it; and optionally makes it active.
func (r *Registry) CreateSession(ctx context.Context, makeActive bool) (*store.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.createLocked(ctx)
	if err != nil {
		return nil, err
	}
	if makeActive {
		r.activeID = session.ID
	}
	return session, nil
}

// UpdateSession merges the set fields into the stored session and the
// mirror. Field-level merges mean a caller holding a stale snapshot cannot
// clobber unrelated concurrent updates.
func (r *Registry) UpdateSession(ctx context.Context, update *store.UpdateChatSession) (*store.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated, err := r.store.UpdateSession(ctx, update)
	if err != nil {
		return nil, err
	}
	for i, session := range r.sessions {
		if session.ID == updated.ID {
			r.sessions[i] = updated
			break
		}
	}
	r.sortLocked()
	return updated, nil
}

// DeleteSession removes the session from the store and the mirror. When the
// deleted session was active, the most recent remaining one takes over, or
// none when the list is now empty.
func (r *Registry) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.DeleteSession(ctx, id); err != nil {
		return err
	}

	kept := r.sessions[:0]
	for _, session := range r.sessions {
		if session.ID != id {
			kept = append(kept, session)
		}
	}
	r.sessions = kept

	if r.activeID == id {
		if len(r.sessions) > 0 {
			r.activeID = r.sessions[0].ID
		} else {
			r.activeID = ""
		}
	}
	return nil
}

// SetActive switches the active session.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, session := range r.sessions {
		if session.ID == id {
			r.activeID = id
			return nil
		}
	}
	return apperr.Newf(apperr.KindValidation, "unknown session %q", id)
}

// ActiveID returns the active session id, empty when none.
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

// Get returns a copy of the session with the given id, or nil.
func (r *Registry) Get(id string) *store.ChatSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, session := range r.sessions {
		if session.ID == id {
			copied := *session
			return &copied
		}
	}
	return nil
}

// List returns a copy of all sessions, most recent first.
func (r *Registry) List() []*store.ChatSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*store.ChatSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		copied := *session
		list = append(list, &copied)
	}
	return list
}

// MarkTitleRequested flips the per-session title flag when the session still
// carries the default title and no request has fired yet. The flag, not a
// message count, guards the trigger so it cannot fire twice no matter how
// quickly messages are submitted. Returns whether the caller won the flag.
func (r *Registry) MarkTitleRequested(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current *store.ChatSession
	for _, session := range r.sessions {
		if session.ID == id {
			current = session
			break
		}
	}
	if current == nil {
		return false, apperr.Newf(apperr.KindValidation, "unknown session %q", id)
	}
	if current.TitleRequested || current.Title != store.DefaultSessionTitle {
		return false, nil
	}

	requested := true
	// Keep the session's recency untouched: requesting a title is not a
	// user-visible mutation.
	ts := current.UpdatedTs
	updated, err := r.store.UpdateSession(ctx, &store.UpdateChatSession{
		ID: id, TitleRequested: &requested, UpdatedTs: &ts,
	})
	if err != nil {
		return false, err
	}
	for i, session := range r.sessions {
		if session.ID == id {
			r.sessions[i] = updated
			break
		}
	}
	return true, nil
}

// ApplyGeneratedTitle overwrites the placeholder title once the background
// title generation finishes. An empty title leaves the session unchanged;
// that path is never an error that could block a chat turn.
func (r *Registry) ApplyGeneratedTitle(ctx context.Context, id, title string) error {
	if title == "" {
		slog.Warn("title generation returned an empty title, leaving title unchanged", "chat_id", id)
		return nil
	}
	_, err := r.UpdateSession(ctx, &store.UpdateChatSession{ID: id, Title: &title})
	return err
}

func (r *Registry) sortLocked() {
	sort.SliceStable(r.sessions, func(i, j int) bool {
		return r.sessions[i].UpdatedTs > r.sessions[j].UpdatedTs
	})
}
