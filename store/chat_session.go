package store

// DefaultSessionTitle is the placeholder title a session carries until the
// asynchronous title generation overwrites it once.
const DefaultSessionTitle = "New Chat"

// ChatSession is one independent conversation thread with its own message
// history and configuration overrides.
type ChatSession struct {
	// ID is an opaque unique identifier, generated client-side at creation.
	ID string

	// Title is the human-readable label shown in the session list.
	Title string

	// UpdatedTs is the last-modified time in Unix milliseconds. It is the
	// sole sort key for session listing, most recent first.
	UpdatedTs int64

	// ModelID optionally overrides the model used for this session.
	// Empty means "use the global default".
	ModelID string

	// UseMemories is the per-session override for whether retrieved
	// memories are injected into prompts.
	UseMemories bool

	// TitleRequested records that title generation has been triggered for
	// this session, so the trigger fires exactly once regardless of how
	// quickly follow-up messages arrive.
	TitleRequested bool
}

type FindChatSession struct {
	ID *string
}

type UpdateChatSession struct {
	ID             string
	Title          *string
	ModelID        *string
	UseMemories    *bool
	TitleRequested *bool
	UpdatedTs      *int64
}

type DeleteChatSession struct {
	ID string
}
