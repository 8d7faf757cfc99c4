// Package devapi provides an in-process implementation of the auth API for
// development mode and tests. Accounts live in a YAML file with Argon2id
// password hashes; issued tokens are opaque random strings with real
// expiries, so the session manager exercises the same renewal paths as
// against the production backend.
package devapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/keygate-dev/keygate/internal/domain/principal"
	"github.com/keygate-dev/keygate/internal/port/outbound"
)

// DefaultTokenTTL is the lifetime of tokens issued by the dev backend.
const DefaultTokenTTL = 24 * time.Hour

// Account is one dev account as declared in the accounts file.
type Account struct {
	ID           string   `yaml:"id"`
	Username     string   `yaml:"username"`
	DisplayName  string   `yaml:"display_name"`
	PasswordHash string   `yaml:"password_hash"` // Argon2id PHC string
	Role         string   `yaml:"role"`
	Capabilities []string `yaml:"capabilities"`
}

type accountsFile struct {
	Accounts []Account `yaml:"accounts"`
}

// Server is the in-process dev auth backend.
type Server struct {
	mu       sync.Mutex
	accounts map[string]*Account // by username
	tokens   map[string]*issued  // by token
	ttl      time.Duration
	logger   *slog.Logger
}

type issued struct {
	username  string
	expiresAt time.Time
}

// Option is a functional option for configuring the dev Server.
type Option func(*Server)

// WithTokenTTL sets the issued-token lifetime. Default is 24h.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a dev backend with the given accounts.
func NewServer(accounts []Account, opts ...Option) *Server {
	s := &Server{
		accounts: make(map[string]*Account, len(accounts)),
		tokens:   make(map[string]*issued),
		ttl:      DefaultTokenTTL,
		logger:   slog.Default(),
	}
	for i := range accounts {
		acct := accounts[i]
		if acct.ID == "" {
			acct.ID = uuid.New().String()
		}
		s.accounts[acct.Username] = &acct
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadAccounts parses a YAML accounts file.
func LoadAccounts(path string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	var f accountsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	return f.Accounts, nil
}

// DefaultAccounts returns the built-in dev accounts used when no accounts
// file is configured. Passwords: "admin" and "viewer".
func DefaultAccounts() []Account {
	// Argon2id hashes are recomputed here instead of hardcoded so the dev
	// backend works regardless of parameter changes in the library.
	adminHash, _ := argon2id.CreateHash("admin", argon2id.DefaultParams)
	viewerHash, _ := argon2id.CreateHash("viewer", argon2id.DefaultParams)
	return []Account{
		{
			ID:           "dev-admin",
			Username:     "admin",
			DisplayName:  "Development Admin",
			PasswordHash: adminHash,
			Role:         string(principal.RoleSuperAdmin),
			Capabilities: []string{
				"apps:read", "apps:write",
				"licenses:read", "licenses:write",
				"devices:read", "devices:write",
				"backups:read", "backups:write",
				"users:read", "users:write",
			},
		},
		{
			ID:           "dev-viewer",
			Username:     "viewer",
			DisplayName:  "Development Viewer",
			PasswordHash: viewerHash,
			Role:         string(principal.RoleUser),
			Capabilities: []string{"apps:read", "licenses:read"},
		},
	}
}

// Login verifies the password against the account's Argon2id hash and
// issues a fresh token.
func (s *Server) Login(_ context.Context, username, password string) (*outbound.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[username]
	if !ok {
		return nil, outbound.ErrInvalidCredentials
	}
	match, err := argon2id.ComparePasswordAndHash(password, acct.PasswordHash)
	if err != nil {
		s.logger.Warn("failed to compare password hash", "username", username, "error", err)
		return nil, outbound.ErrInvalidCredentials
	}
	if !match {
		return nil, outbound.ErrInvalidCredentials
	}

	token, expiresAt, err := s.issueLocked(username)
	if err != nil {
		return nil, err
	}
	return &outbound.Credentials{
		Token:     token,
		ExpiresAt: expiresAt,
		Principal: s.principalLocked(acct),
	}, nil
}

// RefreshToken exchanges a known, unexpired token for a fresh one.
// The old token is invalidated.
func (s *Server) RefreshToken(_ context.Context, token string) (*outbound.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iss, ok := s.tokens[token]
	if !ok || time.Now().UTC().After(iss.expiresAt) {
		delete(s.tokens, token)
		return nil, outbound.ErrTokenRejected
	}
	delete(s.tokens, token)

	fresh, expiresAt, err := s.issueLocked(iss.username)
	if err != nil {
		return nil, err
	}
	return &outbound.Credentials{Token: fresh, ExpiresAt: expiresAt}, nil
}

// Profile returns the principal owning the given token.
func (s *Server) Profile(_ context.Context, token string) (*principal.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.accountForTokenLocked(token)
	if err != nil {
		return nil, err
	}
	return s.principalLocked(acct), nil
}

// UpdateProfile applies partial changes to the token owner's account.
func (s *Server) UpdateProfile(_ context.Context, token string, changes outbound.ProfileChanges) (*principal.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.accountForTokenLocked(token)
	if err != nil {
		return nil, err
	}
	if changes.DisplayName != nil {
		acct.DisplayName = *changes.DisplayName
	}
	if changes.Username != nil && *changes.Username != acct.Username {
		if _, taken := s.accounts[*changes.Username]; taken {
			return nil, fmt.Errorf("username %q already exists", *changes.Username)
		}
		delete(s.accounts, acct.Username)
		acct.Username = *changes.Username
		s.accounts[acct.Username] = acct
	}
	if changes.Password != nil {
		hash, err := argon2id.CreateHash(*changes.Password, argon2id.DefaultParams)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		acct.PasswordHash = hash
	}
	return s.principalLocked(acct), nil
}

// RevokeAll invalidates every issued token. Used by tests to simulate a
// backend-side session purge.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]*issued)
}

func (s *Server) accountForTokenLocked(token string) (*Account, error) {
	iss, ok := s.tokens[token]
	if !ok || time.Now().UTC().After(iss.expiresAt) {
		return nil, outbound.ErrTokenRejected
	}
	acct, ok := s.accounts[iss.username]
	if !ok {
		return nil, outbound.ErrTokenRejected
	}
	return acct, nil
}

func (s *Server) issueLocked(username string) (string, time.Time, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, fmt.Errorf("generate token: %w", err)
	}
	token := "kg_" + hex.EncodeToString(b)
	expiresAt := time.Now().UTC().Add(s.ttl)
	s.tokens[token] = &issued{username: username, expiresAt: expiresAt}
	return token, expiresAt, nil
}

func (s *Server) principalLocked(acct *Account) *principal.Principal {
	return &principal.Principal{
		ID:           acct.ID,
		Username:     acct.Username,
		DisplayName:  acct.DisplayName,
		Role:         principal.Role(acct.Role),
		Capabilities: principal.NewSet(acct.Capabilities...),
		LastLoginAt:  time.Now().UTC(),
	}
}

// Compile-time interface verification.
var _ outbound.AuthAPI = (*Server)(nil)
