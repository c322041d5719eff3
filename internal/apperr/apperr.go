// Package apperr classifies engine errors so components can decide whether to
// retry, surface a prompt, or abort a session.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind buckets an error by how the engine should react to it.
type Kind string

const (
	// KindInvalidRequest marks caller/user input errors. Never retried.
	KindInvalidRequest Kind = "invalid_request"
	// KindSlotUnavailable marks an expected booking conflict. Never retried;
	// surfaced as a choice prompt.
	KindSlotUnavailable Kind = "slot_unavailable"
	// KindTransient marks store/gateway/retriever timeouts or temporary
	// unavailability. Retried with bounded backoff at the component boundary.
	KindTransient Kind = "transient"
	// KindCircuitOpen marks a notification channel skipped by its breaker.
	KindCircuitOpen Kind = "circuit_open"
	// KindFatal marks programming or data-corruption class failures.
	KindFatal Kind = "fatal"
)

// Error carries a kind, a wrapped cause, and a human-readable hint that the
// state machine can hand back to the user verbatim.
type Error struct {
	Kind Kind
	Hint string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Hint)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, hint string, err error) *Error {
	return &Error{Kind: kind, Hint: hint, Err: err}
}

// Invalid wraps err as a non-retryable user error.
func Invalid(hint string, err error) *Error {
	return New(KindInvalidRequest, hint, err)
}

// Unavailable wraps err as a booking conflict.
func Unavailable(hint string, err error) *Error {
	return New(KindSlotUnavailable, hint, err)
}

// Transientf creates a transient error from a format string.
func Transientf(format string, args ...any) *Error {
	return New(KindTransient, "", fmt.Errorf(format, args...))
}

// Fatal wraps err as a non-recoverable failure.
func Fatal(hint string, err error) *Error {
	return New(KindFatal, hint, err)
}

// KindOf extracts the kind from err. Context deadline and cancellation are
// treated as transient: per-call timeouts on external collaborators are
// retried, not escalated. Unclassified errors report KindFatal so nothing
// silently loops on a programming bug.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindFatal
}

// Retryable reports whether err should be retried locally.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// HintOf returns the user-facing hint, falling back to a generic message for
// kinds that carry none.
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Hint != "" {
		return e.Hint
	}
	switch KindOf(err) {
	case KindSlotUnavailable:
		return "That slot is no longer available. Please pick another time."
	case KindInvalidRequest:
		return "Some of the booking details look invalid. Please check and try again."
	case KindTransient:
		return "We hit a temporary problem. Please try again in a moment."
	default:
		return "Sorry, we encountered an error. Please try again later."
	}
}
