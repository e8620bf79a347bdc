// Package apperrors provides the structured error taxonomy shared by the API
// client and the sync components, with errors.Is/As support for classification.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind represents the category of error for propagation decisions and metrics.
type Kind string

const (
	// KindAuth indicates rejected credentials on login. Never retried.
	KindAuth Kind = "auth"
	// KindValidation indicates invalid input rejected by the server.
	KindValidation Kind = "validation"
	// KindConflict indicates a duplicate email/username on registration.
	KindConflict Kind = "conflict"
	// KindUnauthorized indicates an expired or revoked credential. Triggers a
	// forced logout instead of surfacing to the immediate caller.
	KindUnauthorized Kind = "unauthorized"
	// KindNotFound indicates the target resource no longer exists.
	KindNotFound Kind = "not_found"
	// KindNetwork indicates a transient transport failure.
	KindNetwork Kind = "network"
	// KindInternal indicates an unexpected server-side error.
	KindInternal Kind = "internal"
)

// Error is a structured error with kind, message, and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Auth creates a bad-credentials error.
func Auth(message string) *Error {
	return &Error{Kind: KindAuth, Message: message}
}

// Validation creates an invalid-input error.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Conflict creates a duplicate-resource error.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Unauthorized creates an expired/revoked-credential error.
func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// NotFound creates a missing-resource error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Network creates a transient transport error wrapping its cause.
func Network(message string, cause error) *Error {
	return &Error{Kind: KindNetwork, Message: message, Cause: cause}
}

// Internal creates an unexpected server-side error wrapping its cause.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// KindOf classifies any error. Unstructured errors classify as internal.
func KindOf(err error) Kind {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.Kind
	}
	return KindInternal
}

// IsUnauthorized reports whether err is a credential-rejection error.
func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized
}

// IsNetwork reports whether err is a transient transport error.
func IsNetwork(err error) bool {
	return KindOf(err) == KindNetwork
}
