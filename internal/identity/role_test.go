package identity

import "testing"

func TestRoleAtLeast(t *testing.T) {
	tests := []struct {
		name string
		r    Role
		min  Role
		want bool
	}{
		{"staff meets staff", RoleStaff, RoleStaff, true},
		{"staff below reviewer", RoleStaff, RoleReviewer, false},
		{"doctor above reviewer", RoleDoctor, RoleReviewer, true},
		{"admin above everything", RoleAdmin, RoleAuditor, true},
		{"patient below staff", RolePatient, RoleStaff, false},
		{"unknown role denied", Role("intern"), RolePatient, false},
		{"unknown floor denied", RoleAdmin, Role("superuser"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.AtLeast(tt.min); got != tt.want {
				t.Errorf("%s.AtLeast(%s) = %v, want %v", tt.r, tt.min, got, tt.want)
			}
		})
	}
}

func TestRoleValid(t *testing.T) {
	if !RoleReviewer.Valid() {
		t.Error("reviewer should be valid")
	}
	if Role("ghost").Valid() {
		t.Error("unknown role should be invalid")
	}
}
