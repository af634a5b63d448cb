package auth

import "strings"

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	default:
		return false
	}
}

// CanTeach checks if this role can author and grade courses
func (r UserRole) CanTeach() bool {
	switch r {
	case RoleInstructor, RoleAdmin:
		return true
	default:
		return false
	}
}

// CanAdminister checks if this role can manage the marketplace
func (r UserRole) CanAdminister() bool {
	return r == RoleAdmin
}

// IsAtLeast checks if this role meets the minimum required level
func (r UserRole) IsAtLeast(minRole UserRole) bool {
	roleHierarchy := map[UserRole]int{
		RoleStudent:    0,
		RoleInstructor: 1,
		RoleAdmin:      2,
	}

	currentLevel, exists := roleHierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// DashboardPath is the landing route for the role
func (r UserRole) DashboardPath() string {
	switch r {
	case RoleAdmin:
		return "/admin/dashboard"
	case RoleInstructor:
		return "/instructor/dashboard"
	default:
		return "/dashboard"
	}
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []UserRole {
	return []UserRole{
		RoleStudent,
		RoleInstructor,
		RoleAdmin,
	}
}

// ParseRole safely parses a string into a UserRole type
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(strings.ToLower(strings.TrimSpace(roleStr)))
	return role, role.IsValid()
}

// ResolveRole applies the role precedence: a valid metadata role wins,
// then a valid profile role, then student.
func ResolveRole(metadataRole string, profileRole UserRole) UserRole {
	if role, ok := ParseRole(metadataRole); ok {
		return role
	}
	if role, ok := ParseRole(string(profileRole)); ok {
		return role
	}
	return RoleStudent
}
