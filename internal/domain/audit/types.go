// Package audit contains domain types for the console's auth event trail.
package audit

import (
	"context"
	"time"
)

// Event type constants for auth trail records.
const (
	EventLogin         = "auth.login"
	EventLoginFailed   = "auth.login_failed"
	EventLogout        = "auth.logout"
	EventRefresh       = "auth.refresh"
	EventRefreshFailed = "auth.refresh_failed"
	EventProfileUpdate = "auth.profile_update"
)

// Record is a single auth event. Credentials never appear in a record;
// failures carry only the error category in Reason.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	// Username is the login name the event was issued for. For failed
	// logins this is the attempted name, not a verified identity.
	Username    string `json:"username,omitempty"`
	PrincipalID string `json:"principal_id,omitempty"`
	Role        string `json:"role,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	SourceIP    string `json:"source_ip,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Trail persists auth event records.
// Interface owned by domain per hexagonal architecture.
type Trail interface {
	// Append stores records. Failures are logged by the implementation
	// rather than surfaced to auth handlers.
	Append(ctx context.Context, records ...Record) error

	// Recent returns the last n records, newest first.
	Recent(n int) []Record

	// Close flushes and releases resources.
	Close() error
}
