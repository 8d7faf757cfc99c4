// Package guard applies authorization verdicts to routes and rendered UI.
//
// Both guard shapes are instantiations of one generic pattern: compute a
// boolean verdict from the permission evaluator, then branch the outcome.
// The route guard additionally consults session status first:
// authentication is always checked before authorization.
package guard

import (
	"log/slog"
	"net/http"

	"github.com/keygate-dev/keygate/internal/adapter/outbound/cel"
	"github.com/keygate-dev/keygate/internal/domain/authz"
	"github.com/keygate-dev/keygate/internal/domain/principal"
	"github.com/keygate-dev/keygate/internal/domain/session"
	"github.com/keygate-dev/keygate/internal/service"
)

// Default redirect targets.
const (
	// DefaultLoginPath is where unauthenticated navigation is sent.
	DefaultLoginPath = "/login"
	// DefaultFallbackPath is where under-privileged navigation is sent.
	DefaultFallbackPath = "/"
)

// Requirement declares what a guarded view or route needs. The zero value
// requires authentication only. When several fields are set, all must hold.
type Requirement struct {
	// Capability is a single required capability.
	Capability principal.Capability
	// AnyOf passes when at least one listed capability is held.
	// An empty list configured explicitly still fails closed (the
	// evaluator treats empty as "nothing satisfies this").
	AnyOf []principal.Capability
	// AllOf passes when every listed capability is held.
	AllOf []principal.Capability
	// MinRole passes when the principal's role is at least this
	// privileged.
	MinRole principal.Role
}

// Require is shorthand for a single-capability requirement.
func Require(resource, action string) Requirement {
	return Requirement{Capability: principal.Cap(resource, action)}
}

// Satisfied computes the authorization verdict for a principal snapshot.
// A nil principal never satisfies any requirement.
func (r Requirement) Satisfied(p *principal.Principal) bool {
	if p == nil {
		return false
	}
	ev := authz.For(p)
	if !r.Capability.IsZero() && !ev.Has(r.Capability) {
		return false
	}
	if r.AnyOf != nil && !ev.HasAny(r.AnyOf) {
		return false
	}
	if r.AllOf != nil && !ev.HasAll(r.AllOf) {
		return false
	}
	if r.MinRole != "" && !p.Role.AtLeast(r.MinRole) {
		return false
	}
	return true
}

// DenialHook observes guard denials, e.g. for metrics.
type DenialHook func(path, reason string)

// Guard builds route middleware and render helpers over the session manager
// and the optional access-rule service. Guards only read session state; the
// single exception is the stale-restore refresh attempt delegated to
// SessionManager.EnsureFresh.
type Guard struct {
	sessions     *service.SessionManager
	rules        *service.RuleService
	loginPath    string
	fallbackPath string
	logger       *slog.Logger
	onDenial     DenialHook
}

// Option is a functional option for configuring the Guard.
type Option func(*Guard)

// WithRules enables access-rule evaluation after the capability verdict.
func WithRules(rs *service.RuleService) Option {
	return func(g *Guard) {
		g.rules = rs
	}
}

// WithLoginPath overrides the unauthenticated redirect target.
func WithLoginPath(path string) Option {
	return func(g *Guard) {
		g.loginPath = path
	}
}

// WithFallbackPath overrides the under-privileged redirect target.
func WithFallbackPath(path string) Option {
	return func(g *Guard) {
		g.fallbackPath = path
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// WithDenialHook registers a hook invoked on every denial.
func WithDenialHook(hook DenialHook) Option {
	return func(g *Guard) {
		g.onDenial = hook
	}
}

// New creates a Guard over the given session manager.
func New(sessions *service.SessionManager, opts ...Option) *Guard {
	g := &Guard{
		sessions:     sessions,
		loginPath:    DefaultLoginPath,
		fallbackPath: DefaultFallbackPath,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Protect wraps a handler with the route guard for the given requirement.
//
// The check order is fixed:
//  1. mid-restore (Authenticating) -> loading placeholder
//  2. unauthenticated -> redirect to the login view
//  3. authorization verdict false -> redirect to the fallback path
//  4. access rules deny -> redirect to the fallback path
//  5. otherwise the protected handler runs
func (g *Guard) Protect(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := g.sessions.Snapshot()

			if snap.Status == session.StatusAuthenticating || snap.Status == session.StatusRefreshing {
				g.loadingPlaceholder(w)
				return
			}

			// A restored-but-expired token gets exactly one refresh
			// attempt before the navigation is treated as unauthenticated.
			if snap.StaleToken || (snap.Status == session.StatusAuthenticated && snap.Principal != nil) {
				if err := g.sessions.EnsureFresh(r.Context()); err != nil {
					g.deny(w, r, g.loginPath, "unauthenticated")
					return
				}
				snap = g.sessions.Snapshot()
			}

			if snap.Status != session.StatusAuthenticated || snap.Principal == nil {
				g.deny(w, r, g.loginPath, "unauthenticated")
				return
			}

			if !req.Satisfied(snap.Principal) {
				g.deny(w, r, g.fallbackPath, "missing capability")
				return
			}

			if g.rules != nil {
				decision := g.rules.Evaluate(cel.RuleInput{
					PrincipalID:  snap.Principal.ID,
					Username:     snap.Principal.Username,
					Role:         string(snap.Principal.Role),
					Capabilities: snap.Principal.Capabilities.Strings(),
					Path:         r.URL.Path,
					Method:       r.Method,
				})
				if !decision.Allowed {
					g.deny(w, r, g.fallbackPath, decision.Reason)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth wraps a handler with the authentication-only route guard.
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return g.Protect(Requirement{})(next)
}

// Visible computes the conditional-render verdict for a snapshot: true only
// for an authenticated principal satisfying the requirement. Unlike the
// route guard it never redirects and never touches session state.
func Visible(snap service.Snapshot, req Requirement) bool {
	if snap.Status != session.StatusAuthenticated {
		return false
	}
	return req.Satisfied(snap.Principal)
}

// RenderIf returns content when the verdict is true, otherwise the fallback
// (default: empty, i.e. render nothing).
func RenderIf(snap service.Snapshot, req Requirement, content, fallback string) string {
	if Visible(snap, req) {
		return content
	}
	return fallback
}

func (g *Guard) deny(w http.ResponseWriter, r *http.Request, target, reason string) {
	g.logger.Debug("guard denied navigation", "path", r.URL.Path, "reason", reason, "redirect", target)
	if g.onDenial != nil {
		g.onDenial(r.URL.Path, reason)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// loadingPlaceholder is rendered while a login or refresh is in flight.
// The Refresh header makes browsers retry once the session settles.
func (g *Guard) loadingPlaceholder(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Refresh", "1")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<!doctype html><title>Loading</title><p>Signing in…</p>"))
}
