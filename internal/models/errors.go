package models

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindAuthorization  ErrorKind = "authorization"
	KindValidation     ErrorKind = "validation"
	KindNotFound       ErrorKind = "not_found"
	KindTransient      ErrorKind = "transient"
	KindInternal       ErrorKind = "internal"
)

// Error is the classified error surfaced to clients. Code is a stable
// machine-readable reason, Message is human readable.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind and code so wrapped copies of a sentinel still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrMissingToken      = newError(KindAuthentication, "missing_token", "authentication token is required")
	ErrInvalidToken      = newError(KindAuthentication, "invalid_token", "authentication token is invalid or expired")
	ErrPrincipalNotFound = newError(KindAuthentication, "principal_not_found", "account not found")
	ErrAccountFrozen     = newError(KindAuthorization, "account_frozen", "account is frozen")
	ErrAccountDeleted    = newError(KindAuthorization, "account_deleted", "account has been deleted")
	ErrAdminRequired     = newError(KindAuthorization, "admin_required", "administrator role required")

	ErrNotParticipant  = newError(KindAuthorization, "not_participant", "not a participant of this conversation")
	ErrNotSender       = newError(KindAuthorization, "not_sender", "only the sender can modify this message")
	ErrInvalidPayload  = newError(KindValidation, "invalid_payload", "invalid event payload")
	ErrUnknownEvent    = newError(KindValidation, "unknown_event", "unknown event type")
	ErrRateLimited     = newError(KindValidation, "rate_limited", "too many events")
	ErrMessageNotFound = newError(KindNotFound, "message_not_found", "message not found")
	ErrUserNotFound    = newError(KindNotFound, "user_not_found", "user not found")
	ErrUserNotOnline   = newError(KindNotFound, "user_not_online", "user is not online")

	ErrConversationNotFound = newError(KindNotFound, "conversation_not_found", "conversation not found")
	ErrStoreUnavailable     = newError(KindTransient, "store_unavailable", "store temporarily unavailable")
)

// Validation builds a validation error with a specific code.
func Validation(code, msg string) *Error {
	return newError(KindValidation, code, msg)
}

// Transient wraps a store failure.
func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Code: ErrStoreUnavailable.Code, Message: ErrStoreUnavailable.Message, Err: err}
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: "internal", Message: "internal error", Err: err}
}

// Classify returns err as an *Error. Unclassified errors are treated as
// transient store failures, except context errors which stay internal.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Internal(err)
	}
	return Transient(err)
}

// KindOf classifies err without allocating a new *Error for typed errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}
