package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keygate-dev/keygate/internal/adapter/outbound/memory"
	"github.com/keygate-dev/keygate/internal/domain/audit"
	"github.com/keygate-dev/keygate/internal/domain/principal"
	"github.com/keygate-dev/keygate/internal/domain/session"
	"github.com/keygate-dev/keygate/internal/guard"
	"github.com/keygate-dev/keygate/internal/port/outbound"
	"github.com/keygate-dev/keygate/internal/service"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// ConsoleServer is the inbound adapter serving the admin console: the
// session endpoints, the guarded views and the observability surface.
type ConsoleServer struct {
	sessions *service.SessionManager
	guard    *guard.Guard
	notifier *memory.RecordingNotifier
	trail    audit.Trail
	server   *http.Server
	addr     string
	logger   *slog.Logger
	metrics  *Metrics
	registry *prometheus.Registry

	unsubscribe func()
}

// Option is a functional option for configuring ConsoleServer.
type Option func(*ConsoleServer)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(s *ConsoleServer) {
		s.addr = addr
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *ConsoleServer) {
		s.logger = logger
	}
}

// WithNotifier sets the notification buffer exposed by the session endpoint.
func WithNotifier(n *memory.RecordingNotifier) Option {
	return func(s *ConsoleServer) {
		s.notifier = n
	}
}

// WithAuditTrail enables the auth event trail and its admin endpoint.
func WithAuditTrail(t audit.Trail) Option {
	return func(s *ConsoleServer) {
		s.trail = t
	}
}

// NewConsoleServer creates the console server over the given session
// manager and guard.
func NewConsoleServer(sessions *service.SessionManager, g *guard.Guard, opts ...Option) *ConsoleServer {
	s := &ConsoleServer{
		sessions: sessions,
		guard:    g,
		addr:     "127.0.0.1:8080",
		logger:   slog.Default(),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = NewMetrics(s.registry)
	return s
}

// Metrics returns the server's metrics set, for wiring the guard's denial
// hook before Start.
func (s *ConsoleServer) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the console's HTTP handler, for mounting the console
// under an existing server.
func (s *ConsoleServer) Handler() http.Handler {
	return s.routes()
}

// Start begins serving the console. It blocks until the context is
// cancelled or the listener fails.
func (s *ConsoleServer) Start(ctx context.Context) error {
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Track session state reactively: the gauge follows the snapshot and
	// refresh outcomes are derived from Refreshing -> * transitions, which
	// also covers timer-fired renewals no handler observes.
	prev := s.sessions.Snapshot().Status
	s.unsubscribe = s.sessions.Subscribe(func(snap service.Snapshot) {
		if snap.Status == session.StatusAuthenticated {
			s.metrics.SessionActive.Set(1)
		} else {
			s.metrics.SessionActive.Set(0)
		}
		switch {
		case prev == session.StatusRefreshing && snap.Status == session.StatusAuthenticated:
			s.metrics.TokenRefreshesTotal.WithLabelValues("ok").Inc()
		case prev == session.StatusRefreshing && snap.Status == session.StatusUnauthenticated:
			s.metrics.TokenRefreshesTotal.WithLabelValues("error").Inc()
		}
		prev = snap.Status
	})

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("console listening", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *ConsoleServer) shutdown() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// routes assembles the console handler chain.
func (s *ConsoleServer) routes() http.Handler {
	mux := http.NewServeMux()

	// Session endpoints.
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/auth/session", s.handleSession)
	mux.Handle("PATCH /api/profile", s.guard.RequireAuth(http.HandlerFunc(s.handleUpdateProfile)))

	// Login view (unguarded) and the guarded console views.
	mux.HandleFunc("GET /login", s.handleLoginView)
	registerViews(mux, s.guard, s.sessions)

	// Observability.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	if s.trail != nil {
		auditReq := guard.Requirement{MinRole: principal.RoleAdmin}
		mux.Handle("GET /api/audit/recent", s.guard.Protect(auditReq)(http.HandlerFunc(s.handleAuditRecent)))
	}

	var h http.Handler = mux
	h = MetricsMiddleware(s.metrics)(h)
	h = RequestIDMiddleware(s.logger)(h)
	return h
}

// --- session handlers ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Status        string            `json:"status"`
	Principal     *principalJSON    `json:"principal,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	Notifications []notificationDTO `json:"notifications,omitempty"`
}

type principalJSON struct {
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	DisplayName  string   `json:"display_name"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
}

type notificationDTO struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (s *ConsoleServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.sessions.Login(r.Context(), req.Username, req.Password); err != nil {
		s.metrics.LoginsTotal.WithLabelValues("error").Inc()
		status := http.StatusUnauthorized
		reason := "invalid credentials"
		if errors.Is(err, outbound.ErrUnavailable) {
			status = http.StatusBadGateway
			reason = "backend unavailable"
		}
		s.record(r, audit.Record{EventType: audit.EventLoginFailed, Username: req.Username, Reason: reason})
		s.respondError(w, status, "login failed")
		return
	}

	s.metrics.LoginsTotal.WithLabelValues("ok").Inc()
	s.record(r, audit.Record{EventType: audit.EventLogin, Username: req.Username})
	// One-time navigation side effect: the client lands on the default view.
	w.Header().Set("Location", "/")
	s.respondJSON(w, http.StatusOK, s.sessionBody())
}

func (s *ConsoleServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.record(r, audit.Record{EventType: audit.EventLogout})
	s.sessions.Logout()
	w.Header().Set("Location", guard.DefaultLoginPath)
	s.respondJSON(w, http.StatusOK, s.sessionBody())
}

func (s *ConsoleServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.RefreshToken(r.Context()); err != nil {
		if errors.Is(err, session.ErrRefreshInFlight) {
			s.respondError(w, http.StatusConflict, "refresh already in flight")
			return
		}
		reason := "token rejected"
		if errors.Is(err, outbound.ErrUnavailable) {
			reason = "backend unavailable"
		} else if errors.Is(err, session.ErrNoSession) {
			reason = "no session"
		}
		s.record(r, audit.Record{EventType: audit.EventRefreshFailed, Reason: reason})
		s.respondError(w, http.StatusUnauthorized, "refresh failed")
		return
	}
	s.record(r, audit.Record{EventType: audit.EventRefresh})
	s.respondJSON(w, http.StatusOK, s.sessionBody())
}

func (s *ConsoleServer) handleSession(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.sessionBody())
}

func (s *ConsoleServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var changes outbound.ProfileChanges
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.sessions.UpdateProfile(r.Context(), changes); err != nil {
		s.respondError(w, http.StatusBadGateway, "profile update failed")
		return
	}
	s.record(r, audit.Record{EventType: audit.EventProfileUpdate})
	s.respondJSON(w, http.StatusOK, s.sessionBody())
}

func (s *ConsoleServer) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 200)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"records": s.trail.Recent(limit)})
}

// record appends an auth event to the trail, enriched with the request
// context. The trail is optional and failures never affect the response.
func (s *ConsoleServer) record(r *http.Request, rec audit.Record) {
	if s.trail == nil {
		return
	}
	rec.Timestamp = time.Now().UTC()
	if id, ok := r.Context().Value(RequestIDKey).(string); ok {
		rec.RequestID = id
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		rec.SourceIP = host
	}
	if p := s.sessions.Snapshot().Principal; p != nil {
		rec.PrincipalID = p.ID
		rec.Role = string(p.Role)
		if rec.Username == "" {
			rec.Username = p.Username
		}
	}
	if err := s.trail.Append(r.Context(), rec); err != nil {
		LoggerFromContext(r.Context()).Warn("audit append failed", "error", err)
	}
}

func (s *ConsoleServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *ConsoleServer) handleLoginView(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<!doctype html><title>Sign in</title><h1>Sign in</h1>" +
		`<form method="post" action="/api/auth/login">` +
		`<input name="username" placeholder="Username">` +
		`<input name="password" type="password" placeholder="Password">` +
		`<button>Sign in</button></form>`))
}

func (s *ConsoleServer) sessionBody() sessionResponse {
	snap := s.sessions.Snapshot()
	resp := sessionResponse{Status: string(snap.Status)}
	if snap.Principal != nil && snap.Status == session.StatusAuthenticated {
		resp.Principal = &principalJSON{
			ID:           snap.Principal.ID,
			Username:     snap.Principal.Username,
			DisplayName:  snap.Principal.DisplayName,
			Role:         string(snap.Principal.Role),
			Capabilities: snap.Principal.Capabilities.Strings(),
		}
		expires := snap.ExpiresAt
		resp.ExpiresAt = &expires
	}
	if s.notifier != nil {
		for _, n := range s.notifier.Drain() {
			resp.Notifications = append(resp.Notifications, notificationDTO{
				Level:   n.Level,
				Message: n.Message,
			})
		}
	}
	return resp
}

func (s *ConsoleServer) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *ConsoleServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"message": message})
}
