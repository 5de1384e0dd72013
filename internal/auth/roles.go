package auth

import "strings"

// Role is the canonical user role. Both backends return free-text role
// strings; everything is normalized at the authentication boundary.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleStore  Role = "store"
	RoleDriver Role = "driver"
)

// NormalizeRole maps a free-text role string onto a canonical Role.
// Unknown input maps to RoleStore: the least privileged role the
// application knows how to render. Never fails.
func NormalizeRole(raw string) Role {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "admin") || strings.Contains(s, "direction"):
		return RoleAdmin
	case strings.Contains(s, "chauffeur") || strings.Contains(s, "driver"):
		return RoleDriver
	default:
		return RoleStore
	}
}
