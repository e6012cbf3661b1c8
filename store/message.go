package store

import (
	"github.com/jotlabs/memochat/chat/apperr"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid reports whether the role is one of the known values.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one entry in a session's timeline.
type Message struct {
	// ID is unique across all messages. User message ids are generated
	// client-side before send; assistant ids come from the stream or are
	// synthesized at completion.
	ID string

	// ChatID is the owning session's id. Storage does not enforce the
	// foreign key; the timeline merger validates ownership.
	ChatID string

	Role    Role
	Content string

	// CreatedTs is the creation time in Unix milliseconds, assigned when
	// the message is created, not when it is persisted. Secondary sort key
	// within a session.
	CreatedTs int64
}

type FindMessage struct {
	ChatID *string
	ID     *string
}

// Validate rejects messages missing a required field before they reach a
// driver. A violation is a developer-facing assertion, not a user error.
func (m *Message) Validate() error {
	if m == nil {
		return apperr.Validation("message is nil")
	}
	if m.ID == "" {
		return apperr.Validation("message id is required")
	}
	if m.ChatID == "" {
		return apperr.Validation("message chatId is required")
	}
	if !m.Role.IsValid() {
		return apperr.Newf(apperr.KindValidation, "message role %q is not one of system/user/assistant", m.Role)
	}
	if m.Content == "" {
		return apperr.Validation("message content is required")
	}
	return nil
}
