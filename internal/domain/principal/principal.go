// Package principal contains the domain types for authenticated identities.
package principal

import (
	"time"
)

// Role represents a console user role for authorization purposes.
// Roles form an ordered privilege ladder: user < manager < admin < super_admin.
type Role string

const (
	// RoleSuperAdmin has unrestricted access to all console operations.
	RoleSuperAdmin Role = "super_admin"
	// RoleAdmin manages applications, licenses and system users.
	RoleAdmin Role = "admin"
	// RoleManager manages day-to-day licensing operations.
	RoleManager Role = "manager"
	// RoleUser has standard read-mostly access.
	RoleUser Role = "user"
)

// roleRank maps each role to its position on the privilege ladder.
var roleRank = map[Role]int{
	RoleUser:       1,
	RoleManager:    2,
	RoleAdmin:      3,
	RoleSuperAdmin: 4,
}

// IsValid returns true if the role is a known valid role.
func (r Role) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast returns true if the role is at least as privileged as min.
// Unknown roles rank below every valid role.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min] && roleRank[r] > 0
}

// Principal represents an authenticated console user.
// It is owned by the session manager; everything else reads copies.
type Principal struct {
	// ID is the unique identifier for this user.
	ID string
	// Username is the login name.
	Username string
	// DisplayName is the human-readable name shown in the console.
	DisplayName string
	// Role is the user's role on the privilege ladder.
	Role Role
	// Capabilities are the granted "resource:action" strings.
	// Never mutated locally; replaced wholesale on login, refresh or
	// profile update.
	Capabilities Set
	// LastLoginAt is when the user last logged in (UTC).
	LastLoginAt time.Time
	// CreatedAt is when the account was created (UTC).
	CreatedAt time.Time
}

// Clone returns a deep copy so callers can hold a snapshot without
// observing later mutations by the session manager.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Capabilities = p.Capabilities.Clone()
	return &cp
}
