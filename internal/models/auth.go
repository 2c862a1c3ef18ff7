package models

import "github.com/golang-jwt/jwt/v5"

// UserRole scopes what an actor may do.
type UserRole string

const (
	RoleAdmin     UserRole = "ADMIN"
	RoleRegistrar UserRole = "REGISTRAR"
	RoleStudent   UserRole = "STUDENT"
)

// JWTClaims is the validated actor identity the engine trusts. Tenant scoping
// (institution, department) arrives here already checked upstream.
type JWTClaims struct {
	UserID        string   `json:"user_id"`
	Role          UserRole `json:"role"`
	InstitutionID string   `json:"institution_id,omitempty"`
	DepartmentID  string   `json:"department_id,omitempty"`
	jwt.RegisteredClaims
}

// CanOverride reports whether the actor may apply eligibility overrides.
func (c *JWTClaims) CanOverride() bool {
	return c != nil && (c.Role == RoleAdmin || c.Role == RoleRegistrar)
}
