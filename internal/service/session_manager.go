// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/keygate-dev/keygate/internal/domain/principal"
	"github.com/keygate-dev/keygate/internal/domain/session"
	"github.com/keygate-dev/keygate/internal/port/outbound"
)

// Session manager defaults.
const (
	// DefaultTokenTTL is the fallback token lifetime, applied only when the
	// backend grants no explicit expiry.
	DefaultTokenTTL = 24 * time.Hour
	// DefaultRenewalWindow is how long before expiry the proactive renewal
	// timer fires.
	DefaultRenewalWindow = 5 * time.Minute
	// DefaultLogoutDelay is how long after a successful profile update the
	// forced logout fires, leaving time for the notification to render.
	DefaultLogoutDelay = 1500 * time.Millisecond
	// maxLogoutDelay caps the configurable forced-logout delay.
	maxLogoutDelay = 10 * time.Second
)

// ErrClosed is returned by operations on a closed session manager.
var ErrClosed = errors.New("session manager closed")

// SessionConfig holds session manager timing configuration.
type SessionConfig struct {
	// TokenTTL is the fallback token lifetime. Default: 24h.
	TokenTTL time.Duration
	// RenewalWindow is the proactive renewal lead time. Default: 5m.
	RenewalWindow time.Duration
	// LogoutDelay is the forced-logout delay after a profile update.
	// Default: 1.5s, capped at 10s.
	LogoutDelay time.Duration
}

func (c *SessionConfig) setDefaults() {
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.RenewalWindow <= 0 {
		c.RenewalWindow = DefaultRenewalWindow
	}
	if c.LogoutDelay < 0 {
		c.LogoutDelay = 0
	}
	if c.LogoutDelay == 0 {
		c.LogoutDelay = DefaultLogoutDelay
	}
	if c.LogoutDelay > maxLogoutDelay {
		c.LogoutDelay = maxLogoutDelay
	}
}

// Snapshot is the read-only projection of the session cell handed to
// evaluators, guards and listeners.
type Snapshot struct {
	// Status is the state machine state at snapshot time.
	Status session.Status
	// Principal is a deep copy of the authenticated identity, nil when
	// unauthenticated.
	Principal *principal.Principal
	// ExpiresAt is the token expiry, zero when no session is held.
	ExpiresAt time.Time
	// StaleToken is true when a persisted-but-expired token was restored.
	// The next protected action should attempt one refresh before giving up.
	StaleToken bool
}

// Listener receives a snapshot after every status or principal change.
type Listener func(Snapshot)

// SessionManager owns the single mutable session cell: the authenticated
// principal, the bearer token and its expiry. It performs login, logout,
// proactive token renewal and profile updates, mirrors every mutation to the
// token store in the same operation, and exposes read-only snapshots to the
// rest of the console.
type SessionManager struct {
	api      outbound.AuthAPI
	store    outbound.TokenStore
	notifier outbound.Notifier
	logger   *slog.Logger
	cfg      SessionConfig

	mu         sync.Mutex
	status     session.Status
	sess       *session.Session
	stale      bool // restored token already past expiry
	refreshing bool // at-most-one-in-flight refresh flag
	closed     bool

	// generation is bumped on every token mutation and on logout. Timer
	// callbacks capture the generation they were armed for and abort when
	// it no longer matches, so a stale timer can never act on a newer
	// session.
	generation  uint64
	renewTimer  *time.Timer
	logoutTimer *time.Timer

	listeners     map[int]Listener
	nextListener  int
	listenerGroup sync.WaitGroup

	// notifyQueue holds pending listener deliveries in mutation order.
	// A single drainer goroutine (tracked by notifying) works it off, so
	// listeners always observe state changes in the order they happened.
	notifyQueue []notification
	notifying   bool
}

// notification is one queued listener delivery: the snapshot taken at
// mutation time and the listeners registered at that moment.
type notification struct {
	snap      Snapshot
	listeners []Listener
}

// ManagerOption is a functional option for configuring the SessionManager.
type ManagerOption func(*SessionManager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *SessionManager) {
		m.logger = logger
	}
}

// WithNotifier sets the user-visible notification sink.
func WithNotifier(n outbound.Notifier) ManagerOption {
	return func(m *SessionManager) {
		m.notifier = n
	}
}

// noopNotifier discards notifications.
type noopNotifier struct{}

func (noopNotifier) Success(string) {}
func (noopNotifier) Error(string)   {}

// NewSessionManager creates a SessionManager. Call Start to attempt the
// silent restore and Close to release timers.
func NewSessionManager(api outbound.AuthAPI, store outbound.TokenStore, cfg SessionConfig, opts ...ManagerOption) *SessionManager {
	cfg.setDefaults()
	m := &SessionManager{
		api:       api,
		store:     store,
		notifier:  noopNotifier{},
		logger:    slog.Default(),
		cfg:       cfg,
		status:    session.StatusUnauthenticated,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start attempts the silent restore from the token store. A complete,
// unexpired record transitions straight to Authenticated; an expired record
// is retained as stale so the next protected action can attempt one refresh;
// an absent record leaves the manager Unauthenticated.
func (m *SessionManager) Start() {
	stored, err := m.store.Load()
	if err != nil {
		if !errors.Is(err, outbound.ErrNoStoredSession) {
			m.logger.Warn("session restore failed", "error", err)
		}
		return
	}

	sess := &session.Session{
		Token:     stored.Token,
		ExpiresAt: stored.ExpiresAt,
		Principal: identityToPrincipal(stored.Principal),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.sess = sess
	if sess.IsExpired() {
		// Not resurrected as Authenticated: the stale token is kept only so
		// the next protected action can attempt a refresh.
		m.stale = true
		m.status = session.StatusUnauthenticated
		m.logger.Info("restored session is expired", "expired_at", sess.ExpiresAt)
	} else {
		m.status = session.StatusAuthenticated
		m.armRenewalLocked()
		m.logger.Info("session restored",
			"username", sess.Principal.Username, "expires_at", sess.ExpiresAt)
	}
	m.notifyLocked()
	m.mu.Unlock()
}

// Login exchanges credentials for a session. On success the session is held
// in memory and persisted, the renewal timer is armed, and the manager is
// Authenticated. On failure the manager stays Unauthenticated and the error
// is returned; nothing is thrown past this boundary.
func (m *SessionManager) Login(ctx context.Context, username, password string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.status = session.StatusAuthenticating
	m.notifyLocked()
	m.mu.Unlock()

	creds, err := m.api.Login(ctx, username, password)
	if err != nil {
		m.mu.Lock()
		if m.status == session.StatusAuthenticating {
			m.status = session.StatusUnauthenticated
			m.notifyLocked()
		}
		m.mu.Unlock()
		if errors.Is(err, outbound.ErrInvalidCredentials) {
			m.notifier.Error("Invalid username or password")
		} else {
			m.notifier.Error("Could not reach the licensing backend")
		}
		m.logger.Warn("login failed", "username", username, "error", err)
		return fmt.Errorf("login: %w", err)
	}

	expiresAt := creds.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().UTC().Add(m.cfg.TokenTTL)
	}
	sess := &session.Session{
		Token:     creds.Token,
		ExpiresAt: expiresAt,
		Principal: creds.Principal,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.installSessionLocked(sess)
	m.mu.Unlock()

	m.notifier.Success("Signed in")
	m.logger.Info("login succeeded", "username", sess.Principal.Username, "expires_at", expiresAt)
	return nil
}

// Logout unconditionally clears the in-memory cell and the persisted
// entries, cancels all timers and ends Unauthenticated. Idempotent.
func (m *SessionManager) Logout() {
	m.mu.Lock()
	m.logoutLocked()
	m.mu.Unlock()
	m.notifier.Success("Signed out")
}

// logoutLocked clears all session state. Caller must hold m.mu.
func (m *SessionManager) logoutLocked() {
	m.generation++
	m.cancelTimersLocked()
	m.sess = nil
	m.stale = false
	m.refreshing = false
	m.status = session.StatusUnauthenticated
	if err := m.store.Clear(); err != nil {
		m.logger.Warn("failed to clear persisted session", "error", err)
	}
	m.notifyLocked()
}

// RefreshToken exchanges the held token for a fresh one. A concurrent call
// while one is outstanding is a no-op returning ErrRefreshInFlight. A failed
// refresh escalates to a full logout: a session that cannot be proven valid
// is treated as invalid.
func (m *SessionManager) RefreshToken(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.refreshing {
		m.mu.Unlock()
		return session.ErrRefreshInFlight
	}
	if m.sess == nil {
		m.mu.Unlock()
		return session.ErrNoSession
	}
	m.refreshing = true
	m.status = session.StatusRefreshing
	m.notifyLocked()
	token := m.sess.Token
	gen := m.generation
	m.mu.Unlock()

	creds, err := m.api.RefreshToken(ctx, token)

	m.mu.Lock()
	m.refreshing = false
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.generation != gen {
		// A logout or fresh login landed while the call was in flight; the
		// most recent explicit action wins.
		m.mu.Unlock()
		return session.ErrNoSession
	}

	if err != nil {
		m.logger.Warn("token refresh failed, forcing logout", "error", err)
		m.logoutLocked()
		m.mu.Unlock()
		m.notifier.Error("Session could not be renewed, please sign in again")
		return fmt.Errorf("refresh token: %w", err)
	}

	expiresAt := creds.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().UTC().Add(m.cfg.TokenTTL)
	}
	// Principal is assumed unchanged on renewal.
	m.sess.Token = creds.Token
	m.sess.ExpiresAt = expiresAt
	m.stale = false
	m.generation++
	m.persistLocked()
	m.armRenewalLocked()
	m.status = session.StatusAuthenticated
	m.notifyLocked()
	m.mu.Unlock()

	m.logger.Info("token refreshed", "expires_at", expiresAt)
	return nil
}

// UpdateProfile applies partial changes to the authenticated user's profile.
// On success the principal is updated in memory and in the store, and a
// forced logout is scheduled after a short delay: identity changes
// invalidate the session rather than reconciling stale claims.
func (m *SessionManager) UpdateProfile(ctx context.Context, changes outbound.ProfileChanges) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.sess == nil || m.status != session.StatusAuthenticated {
		m.mu.Unlock()
		return session.ErrNoSession
	}
	token := m.sess.Token
	gen := m.generation
	m.mu.Unlock()

	updated, err := m.api.UpdateProfile(ctx, token, changes)
	if err != nil {
		m.notifier.Error("Profile update failed")
		m.logger.Warn("profile update failed", "error", err)
		return fmt.Errorf("update profile: %w", err)
	}

	m.mu.Lock()
	if m.closed || m.generation != gen || m.sess == nil {
		m.mu.Unlock()
		return session.ErrNoSession
	}
	m.sess.Principal = updated
	m.persistLocked()
	m.notifyLocked()

	// Let the notification render before the session is torn down.
	if m.logoutTimer != nil {
		m.logoutTimer.Stop()
	}
	m.logoutTimer = time.AfterFunc(m.cfg.LogoutDelay, func() {
		m.mu.Lock()
		if m.closed || m.generation != gen {
			m.mu.Unlock()
			return
		}
		m.logoutLocked()
		m.mu.Unlock()
		m.notifier.Success("Signed out")
	})
	m.mu.Unlock()

	m.notifier.Success("Profile updated, you will be signed out")
	m.logger.Info("profile updated, forced logout scheduled", "delay", m.cfg.LogoutDelay)
	return nil
}

// EnsureFresh verifies that a usable session is held before a protected
// action. A stale restored token triggers exactly one refresh attempt, whose
// failure has already forced a logout by the time the error returns.
func (m *SessionManager) EnsureFresh(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.sess == nil {
		m.mu.Unlock()
		return session.ErrNoSession
	}
	if m.status == session.StatusAuthenticated && !m.sess.IsExpired() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	// Expired (stale restore or missed renewal): the refresh either proves
	// the session valid or escalates to the forced logout.
	return m.RefreshToken(ctx)
}

// Snapshot returns a read-only copy of the current session state.
func (m *SessionManager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Token returns the held bearer token, or session.ErrNoSession.
func (m *SessionManager) Token() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return "", session.ErrNoSession
	}
	return m.sess.Token, nil
}

// Subscribe registers a listener invoked on every status or principal
// change. The returned cancel function removes the listener.
func (m *SessionManager) Subscribe(l Listener) (cancel func()) {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = l
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Close cancels all scheduled work and rejects further operations. It does
// not clear the persisted session, so a still-valid session survives process
// restarts.
func (m *SessionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.generation++
	m.cancelTimersLocked()
	m.mu.Unlock()
	m.listenerGroup.Wait()
}

// --- internal, caller must hold m.mu ---

// installSessionLocked replaces the session cell after a successful login:
// persist, bump generation, arm renewal, transition to Authenticated.
func (m *SessionManager) installSessionLocked(sess *session.Session) {
	m.generation++
	m.sess = sess
	m.stale = false
	m.persistLocked()
	m.armRenewalLocked()
	m.status = session.StatusAuthenticated
	m.notifyLocked()
}

// persistLocked mirrors the in-memory cell to the token store in the same
// operation as the mutation, so a reload can never observe a disagreement.
func (m *SessionManager) persistLocked() {
	stored := &outbound.StoredSession{
		Token:     m.sess.Token,
		ExpiresAt: m.sess.ExpiresAt,
		Principal: principalToIdentity(m.sess.Principal),
	}
	if err := m.store.Save(stored); err != nil {
		m.logger.Warn("failed to persist session", "error", err)
	}
}

// armRenewalLocked arms the one-shot proactive renewal timer. The previous
// timer is always cancelled first so the manager can never double-arm.
// Already-expired tokens are not proactively refreshed; they fall back to
// the failure path on the next protected action.
func (m *SessionManager) armRenewalLocked() {
	if m.renewTimer != nil {
		m.renewTimer.Stop()
		m.renewTimer = nil
	}
	if m.closed || m.sess == nil {
		return
	}
	remaining := m.sess.TimeUntilExpiry()
	if remaining <= 0 {
		return
	}
	fireIn := remaining - m.cfg.RenewalWindow
	if fireIn < 0 {
		fireIn = 0
	}
	gen := m.generation
	m.renewTimer = time.AfterFunc(fireIn, func() {
		m.mu.Lock()
		if m.closed || m.generation != gen {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		if err := m.RefreshToken(context.Background()); err != nil {
			m.logger.Warn("scheduled renewal failed", "error", err)
		}
	})
	m.logger.Debug("renewal timer armed", "fire_in", fireIn)
}

// cancelTimersLocked stops the renewal and forced-logout timers.
func (m *SessionManager) cancelTimersLocked() {
	if m.renewTimer != nil {
		m.renewTimer.Stop()
		m.renewTimer = nil
	}
	if m.logoutTimer != nil {
		m.logoutTimer.Stop()
		m.logoutTimer = nil
	}
}

func (m *SessionManager) snapshotLocked() Snapshot {
	snap := Snapshot{Status: m.status, StaleToken: m.stale}
	if m.sess != nil {
		snap.Principal = m.sess.Principal.Clone()
		snap.ExpiresAt = m.sess.ExpiresAt
	}
	return snap
}

// notifyLocked queues the current snapshot for all listeners and ensures a
// drainer goroutine is running. Queuing under the mutex and draining with a
// single goroutine keeps deliveries in mutation order; delivery itself runs
// without the mutex so listeners can call back into the manager.
func (m *SessionManager) notifyLocked() {
	if len(m.listeners) == 0 {
		return
	}
	ls := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	m.notifyQueue = append(m.notifyQueue, notification{snap: m.snapshotLocked(), listeners: ls})
	if m.notifying {
		return
	}
	m.notifying = true
	m.listenerGroup.Add(1)
	go m.drainNotifications()
}

// drainNotifications delivers queued snapshots one at a time until the
// queue is empty, then exits.
func (m *SessionManager) drainNotifications() {
	defer m.listenerGroup.Done()
	for {
		m.mu.Lock()
		if len(m.notifyQueue) == 0 {
			m.notifying = false
			m.mu.Unlock()
			return
		}
		n := m.notifyQueue[0]
		m.notifyQueue = m.notifyQueue[1:]
		m.mu.Unlock()

		for _, l := range n.listeners {
			l(n.snap)
		}
	}
}

// --- persistence mapping ---

func principalToIdentity(p *principal.Principal) outbound.Identity {
	return outbound.Identity{
		ID:           p.ID,
		Username:     p.Username,
		DisplayName:  p.DisplayName,
		Role:         string(p.Role),
		Capabilities: p.Capabilities.Strings(),
		LastLoginAt:  p.LastLoginAt,
		CreatedAt:    p.CreatedAt,
	}
}

func identityToPrincipal(id outbound.Identity) *principal.Principal {
	return &principal.Principal{
		ID:           id.ID,
		Username:     id.Username,
		DisplayName:  id.DisplayName,
		Role:         principal.Role(id.Role),
		Capabilities: principal.NewSet(id.Capabilities...),
		LastLoginAt:  id.LastLoginAt,
		CreatedAt:    id.CreatedAt,
	}
}
