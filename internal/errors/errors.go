// Package errors defines the discriminated error type shared by every
// component, plus retry helpers for transient failures.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Error is the structured error type for Agent Brain. It carries the kind
// used at the service boundary, an optional hint for the user, and the
// wrapped cause.
type Error struct {
	// Kind discriminates the error at the boundary.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Hint is an actionable suggestion for the user (may be empty).
	Hint string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates whether the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind, enabling errors.Is against sentinel values.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail. Returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithHint sets the user-facing hint. Returns the error for chaining.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// New creates an Error with the given kind and message. The retryable flag
// is derived from the kind.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Retryable: kind.Retryable(),
	}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an Error that annotates an existing error. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:      kind,
		Message:   message,
		Cause:     err,
		Retryable: kind.Retryable(),
	}
}

// Wrapf creates an Error that annotates an existing error with a formatted
// message.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return Wrap(kind, fmt.Sprintf(format, args...), err)
}

// KindOf extracts the kind from an error chain. Context errors map to their
// corresponding kinds; everything else is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var be *Error
	if stderrors.As(err, &be) {
		return be.Kind
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindDeadlineExceeded
	}
	if stderrors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// HintOf extracts the first hint found in an error chain, or "".
func HintOf(err error) string {
	var be *Error
	if stderrors.As(err, &be) {
		return be.Hint
	}
	return ""
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the error chain is retryable. Unclassified
// errors are not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var be *Error
	if stderrors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// As is a convenience re-export so callers do not need both this package and
// the standard library under an alias.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is re-exports the standard library matcher.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
