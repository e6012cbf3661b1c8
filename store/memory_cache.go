package store

// MemoryEntry is one cached user memory, sourced from the external memory
// collaborator. The cache is a full-replace snapshot: after every mutating
// remote operation the whole per-user set is replaced, never patched, so the
// cache cannot drift from the authoritative remote store.
type MemoryEntry struct {
	// ID is the collaborator-assigned memory id.
	ID string

	// UserID scopes the entry; the cache table is keyed by (UserID, ID).
	UserID string

	// Text is the free-text memory fact.
	Text string

	// CreatedTs is the collaborator-reported creation time in Unix
	// milliseconds, zero when the collaborator omitted it.
	CreatedTs int64
}

type FindMemoryEntry struct {
	UserID string
}
