package outbound

import (
	"errors"
	"time"
)

// ErrNoStoredSession is returned by Load when no persisted session exists.
var ErrNoStoredSession = errors.New("no stored session")

// StoredSession is the persisted mirror of the in-memory session cell:
// three logical entries (token, principal, expiry) written and cleared
// together. Load never returns a partial record; a store that finds only
// some of the entries must treat the session as absent.
type StoredSession struct {
	Token     string    `json:"token"`
	Principal Identity  `json:"principal"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Identity is the serialized form of a principal.
type Identity struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	Capabilities []string  `json:"capabilities"`
	LastLoginAt  time.Time `json:"last_login_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// TokenStore is the outbound port for durable session persistence, the
// write-through mirror of the session manager's in-memory cell.
// Adapters: file store (prod), in-memory store (tests).
type TokenStore interface {
	// Load returns the persisted session, or ErrNoStoredSession when the
	// record is absent or incomplete.
	Load() (*StoredSession, error)

	// Save persists all three entries atomically.
	Save(s *StoredSession) error

	// Clear removes all entries. Idempotent; clearing an empty store is
	// not an error.
	Clear() error
}
