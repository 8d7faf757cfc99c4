package keygate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client is the Keygate SDK client. It drives a running console instance
// over its JSON API.
type Client struct {
	serverAddr string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Keygate SDK client.
// It reads configuration from KEYGATE_* environment variables by default.
// Options can be used to override the defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr: os.Getenv("KEYGATE_SERVER_ADDR"),
		timeout:    parseDurationEnv("KEYGATE_TIMEOUT", 10*time.Second),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
		}
	}

	return c
}

// Login signs in with the given credentials and returns the resulting
// session. On rejection it returns a *LoginRejectedError.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	body := map[string]string{"username": username, "password": password}
	var sess Session
	err := c.doRequest(ctx, http.MethodPost, "/api/auth/login", body, &sess)
	if err != nil {
		var kgErr *KeygateError
		if errors.As(err, &kgErr) && (kgErr.Code == "HTTP_401" || kgErr.Code == "HTTP_502") {
			return nil, &LoginRejectedError{Message: kgErr.Err.Error()}
		}
		return nil, err
	}
	return &sess, nil
}

// Logout signs the console out. It is safe to call without a session.
func (c *Client) Logout(ctx context.Context) (*Session, error) {
	var sess Session
	if err := c.doRequest(ctx, http.MethodPost, "/api/auth/logout", nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Refresh forces a token refresh. It returns ErrRefreshConflict when a
// refresh is already in flight, and ErrLoginRejected when the console has
// no session to refresh or the backend rejected the token.
func (c *Client) Refresh(ctx context.Context) (*Session, error) {
	var sess Session
	err := c.doRequest(ctx, http.MethodPost, "/api/auth/refresh", nil, &sess)
	if err != nil {
		var kgErr *KeygateError
		if errors.As(err, &kgErr) {
			switch kgErr.Code {
			case "HTTP_409":
				return nil, fmt.Errorf("%w", ErrRefreshConflict)
			case "HTTP_401":
				return nil, fmt.Errorf("%w", ErrLoginRejected)
			}
		}
		return nil, err
	}
	return &sess, nil
}

// Session returns the console's current session state. Reading the session
// drains pending notifications.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	var sess Session
	if err := c.doRequest(ctx, http.MethodGet, "/api/auth/session", nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// UpdateProfile changes profile fields on the signed-in account. The
// console schedules a forced sign-out shortly after a successful update.
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (*Session, error) {
	var sess Session
	if err := c.doRequest(ctx, http.MethodPatch, "/api/profile", update, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// RecentAuditRecords returns the latest auth events from the console's
// trail, newest first. Requires an admin session and a console running
// with the audit trail enabled.
func (c *Client) RecentAuditRecords(ctx context.Context, limit int) ([]AuditRecord, error) {
	path := "/api/audit/recent"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Records []AuditRecord `json:"records"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// IsAuthenticated is a convenience method reporting whether the console
// currently holds an authenticated session.
func (c *Client) IsAuthenticated(ctx context.Context) (bool, error) {
	sess, err := c.Session(ctx)
	if err != nil {
		return false, err
	}
	return sess.Authenticated(), nil
}

// doRequest performs an HTTP request against the console.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	url := strings.TrimRight(c.serverAddr, "/") + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("console unreachable",
			"server_addr", c.serverAddr,
			"error", err,
		)
		return &ServerUnreachableError{Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &KeygateError{
			Code: fmt.Sprintf("HTTP_%d", httpResp.StatusCode),
			Err:  fmt.Errorf("server returned %d: %s", httpResp.StatusCode, errorMessage(respBody)),
		}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// errorMessage extracts the console's error message from a response body,
// falling back to the raw body.
func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return string(body)
}

func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	// Try parsing as seconds (integer).
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	// Try parsing as duration string.
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}
