package model

// Role is an operator's RBAC role in the configuration console.
type Role string

const (
	// RoleAdmin manages guardrails, personalities, and assistants.
	RoleAdmin Role = "admin"
	// RoleKeeper tests sandboxes and submits conversation turns.
	RoleKeeper Role = "keeper"
	// RoleReader has read-only access.
	RoleReader Role = "reader"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleKeeper, RoleReader:
		return true
	}
	return false
}
