package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/keygate-dev/keygate/internal/port/outbound"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	s := NewTokenStore()

	if _, err := s.Load(); !errors.Is(err, outbound.ErrNoStoredSession) {
		t.Fatalf("Load() on empty store error = %v, want ErrNoStoredSession", err)
	}

	stored := &outbound.StoredSession{
		Token:     "t",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		Principal: outbound.Identity{ID: "u-1", Capabilities: []string{"apps:read"}},
	}
	if err := s.Save(stored); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Token != "t" || got.Principal.ID != "u-1" {
		t.Errorf("loaded = %+v", got)
	}

	// Mutating the loaded copy must not affect the store.
	got.Principal.Capabilities[0] = "mutated"
	again, _ := s.Load()
	if again.Principal.Capabilities[0] != "apps:read" {
		t.Error("loaded record shares capability slice with the store")
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("second Clear() error = %v", err)
	}
	if _, err := s.Load(); !errors.Is(err, outbound.ErrNoStoredSession) {
		t.Errorf("Load() after Clear error = %v, want ErrNoStoredSession", err)
	}
}
