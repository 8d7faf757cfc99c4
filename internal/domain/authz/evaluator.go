// Package authz evaluates capability and role checks against a principal.
//
// All functions are pure: no I/O, no side effects, no caching. The capability
// set is small and membership is a map lookup, so the evaluator is simply
// re-invoked whenever the principal snapshot changes.
package authz

import (
	"github.com/keygate-dev/keygate/internal/domain/principal"
)

// Evaluator answers capability and role queries for one principal snapshot.
// A nil principal (unauthenticated) denies everything.
type Evaluator struct {
	p *principal.Principal
}

// For creates an evaluator over the given principal snapshot.
func For(p *principal.Principal) Evaluator {
	return Evaluator{p: p}
}

// HasPermission reports whether the exact "resource:action" string is a
// member of the principal's capability set.
func (e Evaluator) HasPermission(resource, action string) bool {
	if e.p == nil {
		return false
	}
	return e.p.Capabilities.Contains(principal.Cap(resource, action))
}

// Has reports whether the principal holds the given capability.
func (e Evaluator) Has(c principal.Capability) bool {
	if e.p == nil {
		return false
	}
	return e.p.Capabilities.Contains(c)
}

// HasAny reports whether at least one capability in the list is held.
// An empty list is false: vacuous checks fail closed.
func (e Evaluator) HasAny(caps []principal.Capability) bool {
	if e.p == nil {
		return false
	}
	for _, c := range caps {
		if e.p.Capabilities.Contains(c) {
			return true
		}
	}
	return false
}

// HasAll reports whether every capability in the list is held.
// An empty list is false, for the same fail-closed reason as HasAny.
func (e Evaluator) HasAll(caps []principal.Capability) bool {
	if e.p == nil || len(caps) == 0 {
		return false
	}
	for _, c := range caps {
		if !e.p.Capabilities.Contains(c) {
			return false
		}
	}
	return true
}

// Role predicates are "at least this privileged" over the ordered role set,
// not capability lookups.

// IsSuperAdmin reports whether the principal is a super admin.
func (e Evaluator) IsSuperAdmin() bool {
	return e.atLeast(principal.RoleSuperAdmin)
}

// IsAdmin reports whether the principal is at least an admin.
func (e Evaluator) IsAdmin() bool {
	return e.atLeast(principal.RoleAdmin)
}

// IsManager reports whether the principal is at least a manager.
func (e Evaluator) IsManager() bool {
	return e.atLeast(principal.RoleManager)
}

func (e Evaluator) atLeast(min principal.Role) bool {
	if e.p == nil {
		return false
	}
	return e.p.Role.AtLeast(min)
}
