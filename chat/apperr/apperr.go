// Package apperr defines the error taxonomy shared by the chat engine.
// Collaborator-boundary errors are converted into one of these kinds before
// they reach callers; raw upstream error shapes never cross that boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes an engine error for surfacing and retry decisions.
type Kind int

const (
	// KindValidation marks malformed input to a store write. Never retried
	// automatically; this is a programming error, not a user-facing one.
	KindValidation Kind = iota

	// KindConfiguration marks an unresolved model id at request-composition
	// time. Blocks the send.
	KindConfiguration

	// KindTransport marks a network or non-2xx failure from an upstream
	// collaborator. Retryable by explicit user action.
	KindTransport

	// KindStorage marks a local store failure, kept distinct from transport
	// so "my message didn't save" is distinguishable from "no reply came".
	KindStorage

	// KindMemory marks a failure in the memory-retrieval path. Always
	// degraded gracefully; never escalated to block the chat flow.
	KindMemory
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConfiguration:
		return "configuration"
	case KindTransport:
		return "transport"
	case KindStorage:
		return "storage"
	case KindMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// HTTPStatus maps the kind to a status code for the thin HTTP surface.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindConfiguration:
		return http.StatusBadRequest
	case KindTransport:
		return http.StatusBadGateway
	case KindStorage:
		return http.StatusInternalServerError
	case KindMemory:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error wraps an underlying cause with a kind and a caller-safe message.
type Error struct {
	Cause   error
	Message string
	Kind    Kind
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether re-issuing the failed operation is safe.
// Only transport and storage failures carry a retry affordance; validation
// and configuration errors need a changed input, and memory failures are
// degraded instead of retried.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindStorage
}

// New creates an error of the given kind without an underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause. Returns nil when
// the cause is nil so call sites can wrap unconditionally.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Validation creates a KindValidation error.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Configuration creates a KindConfiguration error.
func Configuration(message string) *Error {
	return New(KindConfiguration, message)
}

// Transport wraps err as a KindTransport error.
func Transport(err error, message string) *Error {
	return Wrap(err, KindTransport, message)
}

// Storage wraps err as a KindStorage error.
func Storage(err error, message string) *Error {
	return Wrap(err, KindStorage, message)
}

// Memory wraps err as a KindMemory error.
func Memory(err error, message string) *Error {
	return Wrap(err, KindMemory, message)
}

// KindOf extracts the kind from err, or KindStorage false if err carries none.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindStorage, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
