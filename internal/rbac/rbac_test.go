package rbac

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role     string
		perm     string
		expected bool
	}{
		{RoleConsumer, PermPredict, true},
		{RoleConsumer, PermRunEDA, true},
		{RoleConsumer, PermManageModels, false},
		{RoleAdmin, PermManageModels, true},
		{RoleAdmin, PermPredict, true},
		{"unknown", PermPredict, false},
	}

	for _, tt := range tests {
		t.Run(tt.role+"_"+tt.perm, func(t *testing.T) {
			if got := HasPermission(tt.role, tt.perm); got != tt.expected {
				t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.expected)
			}
		})
	}
}

func TestRoleFor(t *testing.T) {
	if RoleFor(true) != RoleAdmin || RoleFor(false) != RoleConsumer {
		t.Fatal("unexpected role mapping")
	}
}
