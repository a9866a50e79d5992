// Package sessionctx carries the acting user's identity resolved by the
// console's session layer. Billing only reads it for audit attribution and
// idempotency token derivation.
package sessionctx

import (
	"context"
	"strings"
)

type sessionKey struct{}

// Session identifies the acting user for the current request.
type Session struct {
	UserID string
	Email  string
}

// WithSession stores the acting user in the context.
func WithSession(ctx context.Context, session Session) context.Context {
	session.UserID = strings.TrimSpace(session.UserID)
	session.Email = strings.TrimSpace(session.Email)
	return context.WithValue(ctx, sessionKey{}, session)
}

// FromContext returns the acting user, if resolved.
func FromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	session, ok := ctx.Value(sessionKey{}).(Session)
	if !ok || session.UserID == "" {
		return Session{}, false
	}
	return session, true
}
