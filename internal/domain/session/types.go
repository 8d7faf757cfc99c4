// Package session holds the live authentication state of the console.
package session

import (
	"time"

	"github.com/keygate-dev/keygate/internal/domain/principal"
)

// Status is the session manager's state machine state.
type Status string

const (
	// StatusUnauthenticated means no session is held.
	StatusUnauthenticated Status = "unauthenticated"
	// StatusAuthenticating means a login call is in flight.
	StatusAuthenticating Status = "authenticating"
	// StatusAuthenticated means a valid session is held.
	StatusAuthenticated Status = "authenticated"
	// StatusRefreshing means a token renewal call is in flight.
	StatusRefreshing Status = "refreshing"
)

// Session pairs a bearer token with its expiry and owning principal.
// A session is either fully present (token, expiry and principal all set,
// all persisted) or fully absent; no partial state is observable.
type Session struct {
	// Token is the opaque bearer token.
	Token string
	// ExpiresAt is the absolute expiry instant (UTC).
	ExpiresAt time.Time
	// Principal is the authenticated identity that owns the token.
	Principal *principal.Principal
}

// IsExpired reports whether the token expiry has passed.
func (s *Session) IsExpired() bool {
	return time.Now().UTC().After(s.ExpiresAt)
}

// TimeUntilExpiry returns the remaining token lifetime.
// Negative for an already-expired session.
func (s *Session) TimeUntilExpiry() time.Duration {
	return time.Until(s.ExpiresAt)
}

// Clone returns a deep copy for read-only consumers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	return &Session{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		Principal: s.Principal.Clone(),
	}
}
