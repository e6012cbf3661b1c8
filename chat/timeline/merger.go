// Package timeline reconciles the message sources that can disagree about a
// session's history: messages already held in transient state, messages newly
// arrived from a stream, and messages reloaded from storage on a session
// switch. The merge is the single source of truth for what a session shows.
package timeline

import (
	"log/slog"
	"sort"
	"time"

	"github.com/jotlabs/memochat/store"
)

// Merger produces one gap-free, duplicate-free, time-ordered sequence per
// session. It is stateless apart from the clock used to repair bad data.
type Merger struct {
	now func() time.Time
}

// New creates a merger using the wall clock.
func New() *Merger {
	return &Merger{now: time.Now}
}

// NewWithClock creates a merger with an injected clock.
func NewWithClock(now func() time.Time) *Merger {
	return &Merger{now: now}
}

// Merge unions the candidate message sources for one session:
//
//  1. Union all candidates by id; the first occurrence wins, so an
//     optimistically appended message is never duplicated by its persisted
//     copy arriving later.
//  2. Sort the union by CreatedTs ascending; ties keep their original
//     relative order.
//
// Messages belonging to a different session are excluded: storage does not
// enforce the chat foreign key, so the merger does. The result is safe to
// replace the transient state with, and merging a result with itself yields
// the same sequence.
func (m *Merger) Merge(chatID string, sources ...[]*store.Message) []*store.Message {
	seen := make(map[string]struct{})
	merged := make([]*store.Message, 0)

	for _, source := range sources {
		for _, message := range source {
			if message == nil || message.ID == "" {
				continue
			}
			if message.ChatID != chatID {
				slog.Warn("dropping message from wrong session",
					"message_id", message.ID,
					"message_chat_id", message.ChatID,
					"chat_id", chatID)
				continue
			}
			if _, ok := seen[message.ID]; ok {
				continue
			}
			seen[message.ID] = struct{}{}
			merged = append(merged, m.repair(message))
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedTs < merged[j].CreatedTs
	})

	return merged
}

// repair backfills a missing CreatedTs. This is a data-quality error, not an
// expected state: it is logged, and the message keeps its place via the
// repair time instead of being dropped.
func (m *Merger) repair(message *store.Message) *store.Message {
	if message.CreatedTs != 0 {
		return message
	}
	slog.Error("message missing createdAt, backfilling with repair time",
		"message_id", message.ID,
		"chat_id", message.ChatID)
	repaired := *message
	repaired.CreatedTs = m.now().UnixMilli()
	return &repaired
}
