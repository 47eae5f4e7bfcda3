package permission

// Role is a member's position in the household. Roles form a strict
// hierarchy: every default grant of a lower role is held by the roles above it.
type Role string

const (
	RoleMember     Role = "member"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Roles lists every role from least to most privileged.
var Roles = []Role{RoleMember, RoleAdmin, RoleSuperAdmin}

// ParseRole maps stored role text onto the role table.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

func (r Role) Valid() bool {
	return r.rank() >= 0
}

// AtLeast reports whether r sits at or above other in the hierarchy.
// Invalid roles are never at least anything.
func (r Role) AtLeast(other Role) bool {
	rr, or := r.rank(), other.rank()
	return rr >= 0 && or >= 0 && rr >= or
}

func (r Role) rank() int {
	for i, role := range Roles {
		if role == r {
			return i
		}
	}
	return -1
}
