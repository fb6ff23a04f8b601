// Package roles defines the application's authorization tiers, the
// provenance tags attached to every derived role, and the static
// capability set keyed by role.
package roles

import (
	"fmt"
	"strings"
)

// Role is the application's canonical authorization tier.
// The zero value means no role could be associated (no session).
type Role string

const (
	RoleNone         Role = ""
	RoleInvestor     Role = "INVESTOR"
	RoleProfessional Role = "PROFESSIONAL"
	RoleAdmin        Role = "ADMIN"
)

// Default is the least-privilege role used whenever derivation is
// inconclusive or fails.
const Default = RoleInvestor

// Source tags how a Role was derived.
type Source string

const (
	SourceNone          Source = "none"
	SourceClaim         Source = "claim"
	SourceGroupLookup   Source = "groupLookup"
	SourceDefault       Source = "default"
	SourceErrorFallback Source = "error-fallback"
)

// Identity provider group names.
const (
	GroupAdmin        = "admin"
	GroupProfessional = "professional"
	GroupInvestor     = "investor"
)

var groupRoles = map[string]Role{
	GroupAdmin:        RoleAdmin,
	GroupProfessional: RoleProfessional,
	GroupInvestor:     RoleInvestor,
}

// All lists the known roles in ascending precedence.
var All = []Role{RoleInvestor, RoleProfessional, RoleAdmin}

// Precedence ranks roles: ADMIN > PROFESSIONAL > INVESTOR > none.
func Precedence(r Role) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleProfessional:
		return 2
	case RoleInvestor:
		return 1
	default:
		return 0
	}
}

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	return Precedence(r) > 0
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.IsValid() && Precedence(r) >= Precedence(min)
}

// Group returns the identity provider group backing r.
func (r Role) Group() string {
	return strings.ToLower(string(r))
}

func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	return string(r)
}

// Highest returns the role with the greatest precedence, or RoleNone.
func Highest(rs ...Role) Role {
	best := RoleNone
	for _, r := range rs {
		if Precedence(r) > Precedence(best) {
			best = r
		}
	}
	return best
}

// FromGroups maps group memberships to a single role using precedence.
// Group names are matched case-insensitively; unknown groups are ignored.
// ok is false when none of the groups maps to a role.
func FromGroups(groups []string) (Role, bool) {
	best := RoleNone
	for _, g := range groups {
		if r, found := groupRoles[strings.ToLower(strings.TrimSpace(g))]; found {
			best = Highest(best, r)
		}
	}
	return best, best != RoleNone
}

// Parse accepts canonical ("ADMIN") and group-style ("admin") role names.
func Parse(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return RoleNone, fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// IsValid reports whether s is a known role source.
func (s Source) IsValid() bool {
	switch s {
	case SourceNone, SourceClaim, SourceGroupLookup, SourceDefault, SourceErrorFallback:
		return true
	}
	return false
}
