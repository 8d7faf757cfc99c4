// Package keygate provides a Go SDK for the Keygate console API.
//
// Keygate is the admin console for a software licensing platform. This SDK
// lets Go tooling drive a running console programmatically: sign in, inspect
// the session, force token refreshes, and update the operator profile. It
// uses only the Go standard library (net/http) with zero external
// dependencies.
//
// Quick start:
//
//	// Set KEYGATE_SERVER_ADDR, then:
//	client := keygate.NewClient()
//
//	sess, err := client.Login(ctx, "admin", "admin")
//	if err != nil {
//	    var rejected *keygate.LoginRejectedError
//	    if errors.As(err, &rejected) {
//	        fmt.Printf("login rejected: %s\n", rejected.Message)
//	    }
//	}
//	fmt.Println(sess.Principal.Role)
package keygate

import "time"

// Session status values reported by the console.
const (
	StatusUnauthenticated = "unauthenticated"
	StatusAuthenticating  = "authenticating"
	StatusAuthenticated   = "authenticated"
	StatusRefreshing      = "refreshing"
)

// Principal describes the signed-in operator.
type Principal struct {
	// ID is the stable identifier of the account.
	ID string `json:"id"`

	// Username is the login name.
	Username string `json:"username"`

	// DisplayName is the human-readable name.
	DisplayName string `json:"display_name"`

	// Role is the privilege level (user, manager, admin, super_admin).
	Role string `json:"role"`

	// Capabilities is the list of "resource:action" grants.
	Capabilities []string `json:"capabilities"`
}

// Notification is a user-facing message emitted by the console, drained
// with the session state.
type Notification struct {
	// Level is the severity: "info", "warning", or "error".
	Level string `json:"level"`

	// Message is the display text.
	Message string `json:"message"`
}

// Session is the console's session state as returned by the API.
type Session struct {
	// Status is one of the Status* constants.
	Status string `json:"status"`

	// Principal is set only while the session is authenticated.
	Principal *Principal `json:"principal,omitempty"`

	// ExpiresAt is the token expiry, set only while authenticated.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Notifications are pending messages, drained by this read.
	Notifications []Notification `json:"notifications,omitempty"`
}

// Authenticated reports whether the session carries a signed-in principal.
func (s *Session) Authenticated() bool {
	return s != nil && s.Status == StatusAuthenticated && s.Principal != nil
}

// ProfileUpdate describes the profile fields to change. Nil fields are
// left untouched. A successful update forces a sign-out on the console
// shortly after, so expect to log in again.
type ProfileUpdate struct {
	// DisplayName replaces the human-readable name.
	DisplayName *string `json:"display_name,omitempty"`

	// Username replaces the login name.
	Username *string `json:"username,omitempty"`

	// Password replaces the password.
	Password *string `json:"password,omitempty"`
}

// AuditRecord is one auth event from the console's trail.
type AuditRecord struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// EventType categorizes the event (auth.login, auth.logout, ...).
	EventType string `json:"event_type"`

	// Username is the login name the event was issued for.
	Username string `json:"username,omitempty"`

	// PrincipalID is the account identifier, when known.
	PrincipalID string `json:"principal_id,omitempty"`

	// Role is the principal's role at the time of the event.
	Role string `json:"role,omitempty"`

	// RequestID correlates the event with console request logs.
	RequestID string `json:"request_id,omitempty"`

	// SourceIP is the client address the request came from.
	SourceIP string `json:"source_ip,omitempty"`

	// Reason is the failure category for failed events.
	Reason string `json:"reason,omitempty"`
}
