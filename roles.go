package session

// UserRole is the user's role
type UserRole = string

const (
	// RoleGuest is a guest role (i.e. view)
	RoleGuest UserRole = "guest"
	// RoleMember is a member (i.e. view, edit)
	RoleMember UserRole = "member"
	// RoleAdmin is an admin role (i.e. view, edit, create)
	RoleAdmin UserRole = "admin"
	// RoleOwner is an owner role (i.e. view, edit, create, delete)
	RoleOwner UserRole = "owner"
)

// roleHierarchy defines the role precedence order
var roleHierarchy = map[UserRole]int{
	RoleGuest:  1,
	RoleMember: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// IsValidRole checks if the role is one of the predefined valid roles
func IsValidRole(r UserRole) bool {
	_, ok := roleHierarchy[r]
	return ok
}

// roleIsAtLeast checks if a role meets or exceeds the minimum required role
func roleIsAtLeast(r, minRole UserRole) bool {
	level, ok := roleHierarchy[r]
	if !ok {
		return false
	}
	minLevel, ok := roleHierarchy[minRole]
	if !ok {
		return false
	}
	return level >= minLevel
}
