// Package auth turns bookshop access tokens into an explicit checkout session.
package auth

import (
	"context"
	"strings"
)

// RoleAdmin is the bookshop userType allowed to read reports.
const RoleAdmin = "Admin"

// Session is the authenticated caller for one checkout request. Token is forwarded to the
// bookshop backend so upstream calls run as the same user.
type Session struct {
	UserID string
	Email  string
	Role   string
	Token  string
}

// Valid reports whether the session carries a user identity.
func (s Session) Valid() bool {
	return strings.TrimSpace(s.UserID) != ""
}

// IsAdmin reports whether the caller holds the admin role.
func (s Session) IsAdmin() bool {
	return strings.EqualFold(strings.TrimSpace(s.Role), RoleAdmin)
}

type sessionKey struct{}

// WithSession stores the session on ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session stored on ctx.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	if !ok || !s.Valid() {
		return Session{}, false
	}
	return s, true
}
