// internal/pkg/apperror/apperror.go

// Package apperror defines the error taxonomy shared by the ledger, the
// work-order and transfer workflows and the scan-bridge.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Kinds are themselves errors so callers can
// match with errors.Is(err, apperror.ErrNotFound).
type Kind string

const (
	ErrInsufficientStock Kind = "insufficient_stock"
	ErrInvalidQuantity   Kind = "invalid_quantity"
	ErrNotFound          Kind = "not_found"
	ErrConflict          Kind = "conflict"
	ErrSessionExpired    Kind = "session_expired"
	ErrInvalidState      Kind = "invalid_state"
	ErrInvalidInput      Kind = "invalid_input"
)

func (k Kind) Error() string {
	return string(k)
}

// Error carries a Kind, a human readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
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

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	var kind Kind
	if errors.As(err, &kind) {
		return kind
	}
	return ""
}

// IsRetryable reports whether the caller may retry the request unchanged.
// Only write contention is retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
