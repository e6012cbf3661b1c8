package memory

import (
	"context"
	"log/slog"

	"github.com/jotlabs/memochat/store"
)

// Syncer refreshes the local memory cache from the remote service. The cache
// holds full snapshots only, never incremental patches, so a refresh after
// every remote mutation keeps reads consistent.
type Syncer struct {
	service Service
	store   *store.Store
}

// NewSyncer creates a Syncer over the given remote service and local store.
func NewSyncer(service Service, chatStore *store.Store) *Syncer {
	return &Syncer{service: service, store: chatStore}
}

// Sync replaces the cached snapshot for the user with the remote state.
func (s *Syncer) Sync(ctx context.Context, userID string) error {
	memories, err := s.service.ListAll(ctx, userID)
	if err != nil {
		return err
	}

	entries := make([]*store.MemoryEntry, 0, len(memories))
	for _, m := range memories {
		entries = append(entries, &store.MemoryEntry{
			ID:        m.ID,
			UserID:    userID,
			Text:      m.Text,
			CreatedTs: m.CreatedAt.UnixMilli(),
		})
	}
	if err := s.store.ReplaceMemoryCache(ctx, userID, entries); err != nil {
		return err
	}

	slog.Debug("memory cache refreshed", "user_id", userID, "entries", len(entries))
	return nil
}

// Add submits messages for extraction and refreshes the cache.
func (s *Syncer) Add(ctx context.Context, userID string, messages []MessageInput) error {
	if err := s.service.Add(ctx, userID, messages); err != nil {
		return err
	}
	return s.Sync(ctx, userID)
}

// Delete removes a memory and refreshes the cache.
func (s *Syncer) Delete(ctx context.Context, userID, memoryID string) error {
	if err := s.service.Delete(ctx, userID, memoryID); err != nil {
		return err
	}
	return s.Sync(ctx, userID)
}
