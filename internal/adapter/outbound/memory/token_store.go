// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"sync"

	"github.com/keygate-dev/keygate/internal/port/outbound"
)

// MemoryTokenStore implements outbound.TokenStore with a single in-memory
// record. Thread-safe. For development and testing only.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	stored *outbound.StoredSession
}

// NewTokenStore creates a new empty in-memory token store.
func NewTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

// Load returns the stored session, or outbound.ErrNoStoredSession.
func (s *MemoryTokenStore) Load() (*outbound.StoredSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stored == nil {
		return nil, outbound.ErrNoStoredSession
	}
	cp := *s.stored
	cp.Principal.Capabilities = append([]string(nil), s.stored.Principal.Capabilities...)
	return &cp, nil
}

// Save replaces the stored session.
func (s *MemoryTokenStore) Save(stored *outbound.StoredSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *stored
	cp.Principal.Capabilities = append([]string(nil), stored.Principal.Capabilities...)
	s.stored = &cp
	return nil
}

// Clear removes the stored session. Idempotent.
func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = nil
	return nil
}

// Compile-time interface verification.
var _ outbound.TokenStore = (*MemoryTokenStore)(nil)
