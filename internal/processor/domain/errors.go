package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed taxonomy of processor failure classes. Unknown HTTP
// statuses collapse into KindInternal.
type Kind string

const (
	KindBadRequest   Kind = "BAD_REQUEST"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindNotFound     Kind = "NOT_FOUND"
	KindConflict     Kind = "CONFLICT"
	KindRateLimited  Kind = "RATE_LIMITED"
	KindTimeout      Kind = "TIMEOUT"
	KindInternal     Kind = "INTERNAL"

	// KindPrecondition marks caller-side configuration or state problems
	// (missing credential, manual plan override, no active subscription).
	// Never retried.
	KindPrecondition Kind = "PRECONDITION"
)

// Error is the typed failure returned by every processor call. Op names the
// failing operation so messages stay traceable when surfaced upward.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// NewError builds a typed processor error.
func NewError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// KindOf classifies any error into the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether a caller holding an idempotency token may retry.
func Retryable(kind Kind) bool {
	switch kind {
	case KindTimeout, KindInternal, KindRateLimited:
		return true
	default:
		return false
	}
}

// KindFromStatus maps an HTTP status to an error kind.
func KindFromStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindInternal
	}
}
