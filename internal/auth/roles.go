package auth

// Role values carried in the JWT "role" claim.
const (
	RoleSuperAdmin  = "SUPER_ADMIN"
	RoleSchoolAdmin = "SCHOOL_ADMIN"
	RoleTeacher     = "TEACHER"
	RoleGuard       = "GUARD"
)

// HasRole reports whether role is one of allowed. SUPER_ADMIN passes every
// check.
func HasRole(role string, allowed ...string) bool {
	if role == RoleSuperAdmin {
		return true
	}
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}
