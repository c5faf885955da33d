package rbac

// API role names carried in bearer claims. Keep these stable.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleGuardian = "guardian"
	RoleWard     = "ward"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// IsStaff reports whether role may act on rooms it is not a member of.
func IsStaff(role string) bool { return role == RoleAdmin || role == RoleOperator }
