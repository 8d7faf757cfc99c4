// Package outbound defines the outbound port interfaces for the licensing
// platform backend and for local persistence.
package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/keygate-dev/keygate/internal/domain/principal"
)

// Auth API errors. Adapters map transport-level failures onto these so the
// session manager can distinguish a rejected credential from an unreachable
// backend.
var (
	// ErrInvalidCredentials means the backend rejected the username/password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenRejected means the backend refused to renew the bearer token.
	ErrTokenRejected = errors.New("token rejected")
	// ErrUnavailable means the backend could not be reached.
	ErrUnavailable = errors.New("backend unavailable")
)

// Credentials is what the backend returns on login or token renewal.
type Credentials struct {
	// Token is the opaque bearer token.
	Token string
	// ExpiresAt is the server-granted expiry. Zero when the server grants
	// no explicit expiry; the session manager then applies its fallback
	// horizon.
	ExpiresAt time.Time
	// Principal is the token's owner. Nil on renewal responses, where the
	// principal is assumed unchanged.
	Principal *principal.Principal
}

// ProfileChanges is a partial update to the authenticated user's profile.
// Nil fields are left untouched.
type ProfileChanges struct {
	DisplayName *string `json:"display_name,omitempty"`
	Username    *string `json:"username,omitempty"`
	Password    *string `json:"password,omitempty"`
}

// AuthAPI is the outbound port for the licensing platform's auth endpoints.
// Adapters: REST client (prod), dev backend (tests, --dev).
type AuthAPI interface {
	// Login exchanges credentials for a bearer token and principal.
	Login(ctx context.Context, username, password string) (*Credentials, error)

	// RefreshToken exchanges a still-valid token for a fresh one.
	// The returned Credentials carry no principal.
	RefreshToken(ctx context.Context, token string) (*Credentials, error)

	// Profile fetches the principal owning the given token.
	Profile(ctx context.Context, token string) (*principal.Principal, error)

	// UpdateProfile applies partial changes and returns the updated principal.
	UpdateProfile(ctx context.Context, token string, changes ProfileChanges) (*principal.Principal, error)
}
