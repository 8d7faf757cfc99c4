package keygate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLoginSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["username"] != "admin" || req["password"] != "admin" {
			t.Errorf("credentials = %v", req)
		}
		expiry := time.Now().UTC().Add(time.Hour)
		_ = json.NewEncoder(w).Encode(Session{
			Status: StatusAuthenticated,
			Principal: &Principal{
				ID:           "u-1",
				Username:     "admin",
				DisplayName:  "Administrator",
				Role:         "super_admin",
				Capabilities: []string{"apps:read", "users:read"},
			},
			ExpiresAt: &expiry,
		})
	}))
	defer srv.Close()

	c := NewClient(WithServerAddr(srv.URL))
	sess, err := c.Login(context.Background(), "admin", "admin")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !sess.Authenticated() {
		t.Errorf("session = %+v, want authenticated", sess)
	}
	if sess.Principal.Role != "super_admin" || len(sess.Principal.Capabilities) != 2 {
		t.Errorf("principal = %+v", sess.Principal)
	}
	if sess.ExpiresAt == nil {
		t.Error("expiry missing")
	}
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "login failed"})
	}))
	defer srv.Close()

	_, err := NewClient(WithServerAddr(srv.URL)).Login(context.Background(), "admin", "wrong")
	if !errors.Is(err, ErrLoginRejected) {
		t.Fatalf("error = %v, want ErrLoginRejected", err)
	}
	var rejected *LoginRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("error = %T, want *LoginRejectedError", err)
	}
}

func TestServerUnreachable(t *testing.T) {
	// Closed server: the dial fails.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := NewClient(WithServerAddr(srv.URL)).Session(context.Background())
	if !errors.Is(err, ErrServerUnreachable) {
		t.Errorf("error = %v, want ErrServerUnreachable", err)
	}
}

func TestRefreshConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "refresh already in flight"})
	}))
	defer srv.Close()

	_, err := NewClient(WithServerAddr(srv.URL)).Refresh(context.Background())
	if !errors.Is(err, ErrRefreshConflict) {
		t.Errorf("error = %v, want ErrRefreshConflict", err)
	}
}

func TestRefreshWithoutSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "refresh failed"})
	}))
	defer srv.Close()

	_, err := NewClient(WithServerAddr(srv.URL)).Refresh(context.Background())
	if !errors.Is(err, ErrLoginRejected) {
		t.Errorf("error = %v, want ErrLoginRejected", err)
	}
}

func TestSessionCarriesNotifications(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/auth/session" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Session{
			Status: StatusUnauthenticated,
			Notifications: []Notification{
				{Level: "warning", Message: "Session expired"},
			},
		})
	}))
	defer srv.Close()

	sess, err := NewClient(WithServerAddr(srv.URL)).Session(context.Background())
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if sess.Authenticated() {
		t.Error("session reported authenticated without a principal")
	}
	if len(sess.Notifications) != 1 || sess.Notifications[0].Level != "warning" {
		t.Errorf("notifications = %+v", sess.Notifications)
	}
}

func TestUpdateProfileSendsPatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/profile" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["display_name"] != "New Name" {
			t.Errorf("body = %v", body)
		}
		if _, ok := body["password"]; ok {
			t.Error("nil password field serialized")
		}
		_ = json.NewEncoder(w).Encode(Session{Status: StatusAuthenticated})
	}))
	defer srv.Close()

	name := "New Name"
	_, err := NewClient(WithServerAddr(srv.URL)).UpdateProfile(context.Background(), ProfileUpdate{DisplayName: &name})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
}

func TestLogout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/logout" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Session{Status: StatusUnauthenticated})
	}))
	defer srv.Close()

	sess, err := NewClient(WithServerAddr(srv.URL)).Logout(context.Background())
	if err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if sess.Status != StatusUnauthenticated {
		t.Errorf("status = %q", sess.Status)
	}
}

func TestRecentAuditRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/audit/recent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("limit = %q, want 5", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"records": []AuditRecord{
				{EventType: "auth.login", Username: "admin"},
			},
		})
	}))
	defer srv.Close()

	records, err := NewClient(WithServerAddr(srv.URL)).RecentAuditRecords(context.Background(), 5)
	if err != nil {
		t.Fatalf("RecentAuditRecords() error = %v", err)
	}
	if len(records) != 1 || records[0].EventType != "auth.login" {
		t.Errorf("records = %+v", records)
	}
}

func TestIsAuthenticated(t *testing.T) {
	authed := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := Session{Status: StatusUnauthenticated}
		if authed {
			sess = Session{Status: StatusAuthenticated, Principal: &Principal{ID: "u-1"}}
		}
		_ = json.NewEncoder(w).Encode(sess)
	}))
	defer srv.Close()

	c := NewClient(WithServerAddr(srv.URL))
	if ok, err := c.IsAuthenticated(context.Background()); err != nil || ok {
		t.Errorf("IsAuthenticated() = %v, %v, want false", ok, err)
	}
	authed = true
	if ok, err := c.IsAuthenticated(context.Background()); err != nil || !ok {
		t.Errorf("IsAuthenticated() = %v, %v, want true", ok, err)
	}
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("KEYGATE_SERVER_ADDR", "http://example.test:8080")
	t.Setenv("KEYGATE_TIMEOUT", "30")

	c := NewClient()
	if c.serverAddr != "http://example.test:8080" {
		t.Errorf("serverAddr = %q", c.serverAddr)
	}
	if c.timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", c.timeout)
	}

	t.Setenv("KEYGATE_TIMEOUT", "1m30s")
	if c := NewClient(); c.timeout != 90*time.Second {
		t.Errorf("timeout = %v, want 90s", c.timeout)
	}
}
