package models

import "strings"

// Role is the user role reported by the backend or cached locally
type Role string

const (
	RoleOperator   Role = "operator"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// ParseRole normalizes a role string
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// CanReceiveAlerts is the local pre-connect gate. It is a hint only; the server decides.
func (r Role) CanReceiveAlerts() bool {
	return r == RoleSupervisor || r == RoleAdmin
}

// CanDelete reports whether the role may delete notifications
func (r Role) CanDelete() bool {
	return r == RoleAdmin
}
