package guard

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/keygate-dev/keygate/internal/adapter/outbound/memory"
	"github.com/keygate-dev/keygate/internal/domain/principal"
	"github.com/keygate-dev/keygate/internal/domain/rules"
	"github.com/keygate-dev/keygate/internal/domain/session"
	"github.com/keygate-dev/keygate/internal/port/outbound"
	"github.com/keygate-dev/keygate/internal/service"
)

// stubAuthAPI is a minimal outbound.AuthAPI for guard tests.
type stubAuthAPI struct {
	mu         sync.Mutex
	loginDelay time.Duration
	refreshErr error
	principal  *principal.Principal
}

func (s *stubAuthAPI) creds() *outbound.Credentials {
	return &outbound.Credentials{
		Token:     "t",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		Principal: s.principal.Clone(),
	}
}

func (s *stubAuthAPI) Login(context.Context, string, string) (*outbound.Credentials, error) {
	s.mu.Lock()
	delay := s.loginDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return s.creds(), nil
}

func (s *stubAuthAPI) RefreshToken(context.Context, string) (*outbound.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	creds := s.creds()
	creds.Principal = nil
	return creds, nil
}

func (s *stubAuthAPI) Profile(context.Context, string) (*principal.Principal, error) {
	return s.principal.Clone(), nil
}

func (s *stubAuthAPI) UpdateProfile(context.Context, string, outbound.ProfileChanges) (*principal.Principal, error) {
	return s.principal.Clone(), nil
}

var _ outbound.AuthAPI = (*stubAuthAPI)(nil)

func operatorPrincipal() *principal.Principal {
	return &principal.Principal{
		ID:           "u-1",
		Username:     "alice",
		Role:         principal.RoleManager,
		Capabilities: principal.NewSet("apps:read", "licenses:read"),
	}
}

// authedManager returns a session manager already signed in as the given
// principal.
func authedManager(t *testing.T, api *stubAuthAPI) *service.SessionManager {
	t.Helper()
	m := service.NewSessionManager(api, memory.NewTokenStore(), service.SessionConfig{})
	t.Cleanup(m.Close)
	if err := m.Login(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return m
}

// protect serves one request through the guard and returns the recorder.
func protect(g *Guard, req Requirement, target string) (*httptest.ResponseRecorder, bool) {
	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	g.Protect(req)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec, reached
}

func TestProtectRedirectsUnauthenticated(t *testing.T) {
	api := &stubAuthAPI{principal: operatorPrincipal()}
	m := service.NewSessionManager(api, memory.NewTokenStore(), service.SessionConfig{})
	defer m.Close()

	g := New(m)
	rec, reached := protect(g, Require("apps", "read"), "/apps")

	if reached {
		t.Error("handler reached, want redirect")
	}
	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	// Authentication is checked before authorization: the missing
	// capability must not turn this into a fallback redirect.
	if loc := rec.Header().Get("Location"); loc != DefaultLoginPath {
		t.Errorf("Location = %q, want %q", loc, DefaultLoginPath)
	}
}

func TestProtectRedirectsMissingCapability(t *testing.T) {
	api := &stubAuthAPI{principal: operatorPrincipal()}
	m := authedManager(t, api)

	var denied []string
	g := New(m, WithDenialHook(func(path, reason string) {
		denied = append(denied, reason)
	}))

	// A manager without backups:read lands on the fallback view.
	rec, reached := protect(g, Require("backups", "read"), "/backups")

	if reached {
		t.Error("handler reached, want redirect")
	}
	if loc := rec.Header().Get("Location"); loc != DefaultFallbackPath {
		t.Errorf("Location = %q, want %q", loc, DefaultFallbackPath)
	}
	if len(denied) != 1 || denied[0] != "missing capability" {
		t.Errorf("denial hook calls = %v", denied)
	}
}

func TestProtectAllowsSatisfiedRequirement(t *testing.T) {
	api := &stubAuthAPI{principal: operatorPrincipal()}
	m := authedManager(t, api)
	g := New(m)

	rec, reached := protect(g, Require("apps", "read"), "/apps")

	if !reached {
		t.Fatal("handler not reached")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestProtectZeroRequirementNeedsAuthOnly(t *testing.T) {
	api := &stubAuthAPI{principal: operatorPrincipal()}
	m := authedManager(t, api)
	g := New(m)

	if _, reached := protect(g, Requirement{}, "/"); !reached {
		t.Error("authenticated request with zero requirement should pass")
	}
}

func TestProtectRendersLoadingPlaceholderWhileAuthenticating(t *testing.T) {
	api := &stubAuthAPI{principal: operatorPrincipal(), loginDelay: 150 * time.Millisecond}
	m := service.NewSessionManager(api, memory.NewTokenStore(), service.SessionConfig{})
	defer m.Close()
	g := New(m)

	done := make(chan struct{})
	go func() {
		_ = m.Login(context.Background(), "alice", "secret")
		close(done)
	}()

	// Wait until the manager reports Authenticating, then navigate.
	deadline := time.Now().Add(2 * time.Second)
	for m.Snapshot().Status != session.StatusAuthenticating && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	rec, reached := protect(g, Requirement{}, "/")
	<-done

	if reached {
		t.Error("handler reached while login in flight")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Header().Get("Refresh") != "1" {
		t.Errorf("Refresh header = %q, want %q", rec.Header().Get("Refresh"), "1")
	}
}

func TestProtectRefreshesStaleRestore(t *testing.T) {
	api := &stubAuthAPI{principal: operatorPrincipal()}
	store := memory.NewTokenStore()
	_ = store.Save(&outbound.StoredSession{
		Token:     "stale",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
		Principal: outbound.Identity{
			ID: "u-1", Username: "alice", Role: "manager",
			Capabilities: []string{"apps:read"},
		},
	})
	m := service.NewSessionManager(api, store, service.SessionConfig{})
	defer m.Close()
	m.Start()
	g := New(m)

	// The stale token gets one refresh attempt, which succeeds, so the
	// navigation goes through.
	if _, reached := protect(g, Require("apps", "read"), "/apps"); !reached {
		t.Error("handler not reached after successful stale refresh")
	}
}

func TestProtectRedirectsWhenStaleRefreshFails(t *testing.T) {
	api := &stubAuthAPI{principal: operatorPrincipal(), refreshErr: outbound.ErrTokenRejected}
	store := memory.NewTokenStore()
	_ = store.Save(&outbound.StoredSession{
		Token:     "stale",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
		Principal: outbound.Identity{ID: "u-1", Username: "alice", Role: "manager"},
	})
	m := service.NewSessionManager(api, store, service.SessionConfig{})
	defer m.Close()
	m.Start()
	g := New(m)

	rec, reached := protect(g, Requirement{}, "/")
	if reached {
		t.Error("handler reached, want redirect")
	}
	if loc := rec.Header().Get("Location"); loc != DefaultLoginPath {
		t.Errorf("Location = %q, want %q", loc, DefaultLoginPath)
	}
}

func TestProtectAppliesAccessRules(t *testing.T) {
	api := &stubAuthAPI{principal: operatorPrincipal()}
	m := authedManager(t, api)

	rs, err := service.NewRuleService([]rules.Rule{
		{
			Name:        "managers-keep-out-of-licenses",
			RoutePrefix: "/licenses",
			Condition:   `role == "manager"`,
			Action:      rules.ActionDeny,
		},
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewRuleService() error = %v", err)
	}
	g := New(m, WithRules(rs))

	// Capability check passes, then the rule denies.
	rec, reached := protect(g, Require("licenses", "read"), "/licenses")
	if reached {
		t.Error("handler reached, want rule denial")
	}
	if loc := rec.Header().Get("Location"); loc != DefaultFallbackPath {
		t.Errorf("Location = %q, want %q", loc, DefaultFallbackPath)
	}

	// A path outside the rule's prefix is untouched.
	if _, reached := protect(g, Require("apps", "read"), "/apps"); !reached {
		t.Error("handler not reached for path outside the rule prefix")
	}
}

func TestRequirementSatisfied(t *testing.T) {
	p := operatorPrincipal()

	tests := []struct {
		name string
		req  Requirement
		want bool
	}{
		{name: "zero requirement", req: Requirement{}, want: true},
		{name: "granted capability", req: Require("apps", "read"), want: true},
		{name: "missing capability", req: Require("backups", "read"), want: false},
		{name: "min role met", req: Requirement{MinRole: principal.RoleManager}, want: true},
		{name: "min role not met", req: Requirement{MinRole: principal.RoleAdmin}, want: false},
		{
			name: "any of with one granted",
			req: Requirement{AnyOf: []principal.Capability{
				principal.Cap("backups", "read"), principal.Cap("apps", "read"),
			}},
			want: true,
		},
		{
			name: "all of with one missing",
			req: Requirement{AllOf: []principal.Capability{
				principal.Cap("apps", "read"), principal.Cap("backups", "read"),
			}},
			want: false,
		},
		{
			// An explicitly configured empty list fails closed.
			name: "explicit empty any of",
			req:  Requirement{AnyOf: []principal.Capability{}},
			want: false,
		},
		{
			name: "capability and role combined",
			req:  Requirement{Capability: principal.Cap("apps", "read"), MinRole: principal.RoleManager},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Satisfied(p); got != tt.want {
				t.Errorf("Satisfied() = %v, want %v", got, tt.want)
			}
		})
	}

	if (Requirement{}).Satisfied(nil) {
		t.Error("nil principal satisfied a requirement")
	}
}

func TestVisibleAndRenderIf(t *testing.T) {
	snap := service.Snapshot{
		Status:    session.StatusAuthenticated,
		Principal: operatorPrincipal(),
	}

	if !Visible(snap, Require("apps", "read")) {
		t.Error("Visible() = false for granted capability")
	}
	if Visible(snap, Require("backups", "read")) {
		t.Error("Visible() = true for missing capability")
	}

	unauth := service.Snapshot{Status: session.StatusUnauthenticated}
	if Visible(unauth, Requirement{}) {
		t.Error("Visible() = true while unauthenticated")
	}

	if got := RenderIf(snap, Require("apps", "read"), "link", ""); got != "link" {
		t.Errorf("RenderIf() = %q, want %q", got, "link")
	}
	if got := RenderIf(snap, Require("backups", "read"), "link", "-"); got != "-" {
		t.Errorf("RenderIf() = %q, want fallback", got)
	}
}
