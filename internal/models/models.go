package models

import (
	"strings"
	"time"
)

// Role is the access level of a user account
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Roles lists every valid role, lowest privilege first
var Roles = []Role{RoleUser, RoleAdmin, RoleSuperAdmin}

// ParseRole returns the role for s, falling back to RoleUser for unknown values
func ParseRole(s string) Role {
	switch Role(strings.TrimSpace(s)) {
	case RoleAdmin:
		return RoleAdmin
	case RoleSuperAdmin:
		return RoleSuperAdmin
	default:
		return RoleUser
	}
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin || r == RoleSuperAdmin
}

// IsAdmin is true for admin and super_admin
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Label returns the badge text shown in listings
func (r Role) Label() string {
	switch r {
	case RoleSuperAdmin:
		return "Super Admin"
	case RoleAdmin:
		return "Admin"
	default:
		return "Usuário"
	}
}

// User is the account record exchanged with the backend.
// The backend names the role field "type".
type User struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Role      Role       `json:"type"`
	Avatar    string     `json:"avatar,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Initials returns up to two upper-case initials for the avatar fallback
func (u User) Initials() string {
	fields := strings.Fields(u.Name)
	var b strings.Builder
	for _, f := range fields {
		if b.Len() >= 2 {
			break
		}
		b.WriteString(strings.ToUpper(string([]rune(f)[:1])))
	}
	if b.Len() == 0 && u.Email != "" {
		return strings.ToUpper(string([]rune(u.Email)[:1]))
	}
	return b.String()
}

// UserInput carries the writable fields of a create or update call
type UserInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     Role   `json:"type,omitempty"`
	Password string `json:"password,omitempty"`
}

// Fields returns the input as form fields. An empty role or password is omitted so an
// update keeps the stored value.
func (in UserInput) Fields() map[string]string {
	fields := map[string]string{
		"name":  in.Name,
		"email": in.Email,
	}
	if in.Role != "" {
		fields["type"] = string(in.Role)
	}
	if in.Password != "" {
		fields["password"] = in.Password
	}
	return fields
}
