package principal

import "testing"

func TestRoleAtLeast(t *testing.T) {
	tests := []struct {
		name string
		role Role
		min  Role
		want bool
	}{
		{name: "super admin over admin", role: RoleSuperAdmin, min: RoleAdmin, want: true},
		{name: "admin over manager", role: RoleAdmin, min: RoleManager, want: true},
		{name: "manager over user", role: RoleManager, min: RoleUser, want: true},
		{name: "role meets itself", role: RoleAdmin, min: RoleAdmin, want: true},
		{name: "user below manager", role: RoleUser, min: RoleManager, want: false},
		{name: "manager below admin", role: RoleManager, min: RoleAdmin, want: false},
		{name: "admin below super admin", role: RoleAdmin, min: RoleSuperAdmin, want: false},
		{name: "unknown role below everything", role: Role("owner"), min: RoleUser, want: false},
		{name: "empty role below everything", role: Role(""), min: RoleUser, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.role.AtLeast(tt.min); got != tt.want {
				t.Errorf("%q.AtLeast(%q) = %v, want %v", tt.role, tt.min, got, tt.want)
			}
		})
	}
}

func TestRoleIsValid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleManager, RoleAdmin, RoleSuperAdmin} {
		if !r.IsValid() {
			t.Errorf("%q.IsValid() = false, want true", r)
		}
	}
	if Role("root").IsValid() {
		t.Error(`Role("root").IsValid() = true, want false`)
	}
}

func TestPrincipalClone(t *testing.T) {
	p := &Principal{
		ID:           "u-1",
		Username:     "alice",
		Role:         RoleManager,
		Capabilities: NewSet("apps:read"),
	}

	cp := p.Clone()
	cp.Capabilities["apps:write"] = struct{}{}
	cp.Username = "bob"

	if p.Capabilities.Contains(Cap("apps", "write")) {
		t.Error("mutating the clone's capabilities leaked into the original")
	}
	if p.Username != "alice" {
		t.Errorf("original username = %q, want alice", p.Username)
	}

	var nilP *Principal
	if nilP.Clone() != nil {
		t.Error("Clone of nil principal should stay nil")
	}
}
