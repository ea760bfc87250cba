package rbac

// Role constants
const (
	RoleConsumer = "consumer"
	RoleAdmin    = "admin"
)

// Permission constants
const (
	PermPredict      = "predict"
	PermRunEDA       = "run_eda"
	PermViewStatus   = "view_payment_status"
	PermManageModels = "manage_models"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleConsumer: {
		PermPredict, PermRunEDA, PermViewStatus,
	},
	RoleAdmin: {
		PermPredict, PermRunEDA, PermViewStatus,
		PermManageModels,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// RoleFor picks the role a wallet signs in with.
func RoleFor(isAdmin bool) string {
	if isAdmin {
		return RoleAdmin
	}
	return RoleConsumer
}
