package models

import (
	"time"

	"github.com/upb/realty-dashboard/roles"
)

// RoleHint is the last role resolved for a principal. It is advisory only:
// it may be shown while a fresh resolution is running, never used to
// authorize anything.
type RoleHint struct {
	PrincipalID string     `json:"principal_id" db:"principal_id"`
	Role        roles.Role `json:"role" db:"role"`
	Groups      []string   `json:"groups" db:"groups"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the RoleHint model
func (RoleHint) TableName() string {
	return "role_hints"
}

// NewRoleHint creates a new RoleHint instance
func NewRoleHint(principalID string, role roles.Role, groups []string) *RoleHint {
	return &RoleHint{
		PrincipalID: principalID,
		Role:        role,
		Groups:      append([]string(nil), groups...),
		UpdatedAt:   time.Now(),
	}
}
