package rbac

import "testing"

func TestHighestRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  string
	}{
		{name: "пустой набор", roles: nil, want: ""},
		{name: "только чужие роли", roles: []string{"offline_access", "uma_authorization"}, want: ""},
		{name: "один operador", roles: []string{RoleOperador}, want: RoleOperador},
		{name: "operador + admin", roles: []string{RoleOperador, RoleAdmin}, want: RoleAdmin},
		{name: "super-admin первым", roles: []string{RoleSuperAdmin, RoleOperadorVIP}, want: RoleSuperAdmin},
		{name: "смешанный набор", roles: []string{"offline_access", RoleOperadorVIP, RoleOperador}, want: RoleOperadorVIP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HighestRole(tt.roles)
			if got != tt.want {
				t.Errorf("HighestRole(%v) = %q, хотели %q", tt.roles, got, tt.want)
			}
		})
	}
}

func TestRoleChecks(t *testing.T) {
	tests := []struct {
		role     string
		elevated bool
		audit    bool
	}{
		{RoleOperador, false, false},
		{RoleOperadorVIP, false, true},
		{RoleAdmin, true, true},
		{RoleSuperAdmin, true, true},
		{"", false, false},
		{"root", false, false},
	}

	for _, tt := range tests {
		if got := IsElevated(tt.role); got != tt.elevated {
			t.Errorf("IsElevated(%q) = %v, хотели %v", tt.role, got, tt.elevated)
		}
		if got := CanAudit(tt.role); got != tt.audit {
			t.Errorf("CanAudit(%q) = %v, хотели %v", tt.role, got, tt.audit)
		}
	}
}

func TestCanMutate(t *testing.T) {
	tests := []struct {
		name  string
		actor string
		role  string
		owner string
		want  bool
	}{
		{"владелец", "ana", RoleOperador, "ana", true},
		{"чужая запись, operador", "ana", RoleOperador, "luis", false},
		{"чужая запись, operador-vip", "ana", RoleOperadorVIP, "luis", false},
		{"чужая запись, admin", "ana", RoleAdmin, "luis", true},
		{"чужая запись, super-admin", "ana", RoleSuperAdmin, "luis", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanMutate(tt.actor, tt.role, tt.owner); got != tt.want {
				t.Errorf("CanMutate = %v, хотели %v", got, tt.want)
			}
		})
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range []string{RoleOperador, RoleOperadorVIP, RoleAdmin, RoleSuperAdmin} {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%q) = false, хотели true", r)
		}
	}
	if IsValidRole("readonly") {
		t.Error("IsValidRole(\"readonly\") = true, хотели false")
	}
}
