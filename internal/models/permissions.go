package models

// Presentation rules for the console and CLI. These decide which controls are shown;
// the backend enforces the same rules independently.

// CanCreateUsers reports whether actor may see the "new user" control
func CanCreateUsers(actor User) bool {
	return actor.Role.IsAdmin()
}

// CanEdit reports whether actor may edit target. Users may always edit themselves.
func CanEdit(actor, target User) bool {
	return actor.Role.IsAdmin() || actor.ID == target.ID
}

// CanDelete reports whether actor may delete target. A super_admin can only be
// deleted by themself.
func CanDelete(actor, target User) bool {
	if actor.ID == target.ID {
		return true
	}
	return actor.Role.IsAdmin() && target.Role != RoleSuperAdmin
}

// CanChangeRole reports whether actor may edit the role field at all
func CanChangeRole(actor User) bool {
	return actor.Role.IsAdmin()
}

// AssignableRoles returns the roles actor may assign, lowest privilege first
func AssignableRoles(actor User) []Role {
	switch actor.Role {
	case RoleSuperAdmin:
		return []Role{RoleUser, RoleAdmin, RoleSuperAdmin}
	case RoleAdmin:
		return []Role{RoleUser, RoleAdmin}
	default:
		return []Role{RoleUser}
	}
}

// CanAssign reports whether actor may give role to an account
func CanAssign(actor User, role Role) bool {
	for _, r := range AssignableRoles(actor) {
		if r == role {
			return true
		}
	}
	return false
}
