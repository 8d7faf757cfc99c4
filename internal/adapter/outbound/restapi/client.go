// Package restapi implements the outbound auth API port against the
// licensing platform's REST backend.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/keygate-dev/keygate/internal/domain/principal"
	"github.com/keygate-dev/keygate/internal/port/outbound"
)

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response body is read.
const maxErrorBody = 4 << 10

// Client talks to the licensing platform's auth endpoints:
// POST /api/auth/login, POST /api/auth/refresh,
// GET /api/profile, PATCH /api/profile.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout. Default is 30s.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client for the given backend base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- wire types ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type credentialsResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at,omitzero"`
	Principal *identityJSON `json:"principal,omitempty"`
}

type identityJSON struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	Capabilities []string  `json:"capabilities"`
	LastLoginAt  time.Time `json:"last_login_at"`
	CreatedAt    time.Time `json:"created_at"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (id *identityJSON) toPrincipal() *principal.Principal {
	if id == nil {
		return nil
	}
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

// Login exchanges credentials for a bearer token and principal.
func (c *Client) Login(ctx context.Context, username, password string) (*outbound.Credentials, error) {
	var resp credentialsResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", "", loginRequest{
		Username: username,
		Password: password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &outbound.Credentials{
		Token:     resp.Token,
		ExpiresAt: resp.ExpiresAt,
		Principal: resp.Principal.toPrincipal(),
	}, nil
}

// RefreshToken exchanges a still-valid token for a fresh one.
func (c *Client) RefreshToken(ctx context.Context, token string) (*outbound.Credentials, error) {
	var resp credentialsResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/refresh", token, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &outbound.Credentials{
		Token:     resp.Token,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// Profile fetches the principal owning the given token.
func (c *Client) Profile(ctx context.Context, token string) (*principal.Principal, error) {
	var resp identityJSON
	if err := c.do(ctx, http.MethodGet, "/api/profile", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toPrincipal(), nil
}

// UpdateProfile applies partial changes and returns the updated principal.
func (c *Client) UpdateProfile(ctx context.Context, token string, changes outbound.ProfileChanges) (*principal.Principal, error) {
	var resp identityJSON
	if err := c.do(ctx, http.MethodPatch, "/api/profile", token, changes, &resp); err != nil {
		return nil, err
	}
	return resp.toPrincipal(), nil
}

// do performs one JSON round trip and maps failures onto the outbound
// sentinel errors: 401 on login is a credential rejection, 401/403 elsewhere
// is a rejected token, transport errors mean the backend is unreachable.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %v", outbound.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return c.mapError(path, resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) mapError(path string, resp *http.Response) error {
	var msg errorResponse
	if data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)); err == nil {
		_ = json.Unmarshal(data, &msg)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized && path == "/api/auth/login":
		return fmt.Errorf("%w: %s", outbound.ErrInvalidCredentials, msg.Message)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", outbound.ErrTokenRejected, msg.Message)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: backend returned %d", outbound.ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, msg.Message)
	}
}

// Compile-time interface verification.
var _ outbound.AuthAPI = (*Client)(nil)
