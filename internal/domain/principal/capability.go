package principal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCapability is returned when a wire string is not "resource:action".
var ErrInvalidCapability = errors.New("invalid capability string")

// Capability is a typed (resource, action) pair. The wire representation
// stays the flat "resource:action" string for compatibility with the server
// contract; call sites construct the typed pair so malformed strings cannot
// reach the evaluator.
type Capability struct {
	Resource string
	Action   string
}

// Cap is shorthand for constructing a Capability.
func Cap(resource, action string) Capability {
	return Capability{Resource: resource, Action: action}
}

// String returns the wire form "resource:action".
func (c Capability) String() string {
	return c.Resource + ":" + c.Action
}

// IsZero reports whether the capability is empty.
func (c Capability) IsZero() bool {
	return c.Resource == "" && c.Action == ""
}

// ParseCapability parses a wire string into a Capability.
// Matching is exact and case-sensitive; no wildcard or hierarchy exists,
// so "licenses:write" never implies "licenses:read".
func ParseCapability(s string) (Capability, error) {
	resource, action, ok := strings.Cut(s, ":")
	if !ok || resource == "" || action == "" || strings.Contains(action, ":") {
		return Capability{}, fmt.Errorf("%w: %q", ErrInvalidCapability, s)
	}
	return Capability{Resource: resource, Action: action}, nil
}

// Set is an order-irrelevant set of granted capability strings.
type Set map[string]struct{}

// NewSet builds a Set from wire strings. Malformed entries are kept as-is:
// the evaluator only tests presence, and the server owns the enumeration.
func NewSet(caps ...string) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Contains reports whether the exact wire string is a member.
func (s Set) Contains(c Capability) bool {
	_, ok := s[c.String()]
	return ok
}

// Strings returns the members as a slice, for serialization.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	return out
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	cp := make(Set, len(s))
	for c := range s {
		cp[c] = struct{}{}
	}
	return cp
}
