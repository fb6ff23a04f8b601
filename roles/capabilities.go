package roles

// Capability is a named section or action gated by role.
type Capability string

// Sections.
const (
	SectionDashboard      Capability = "dashboard"
	SectionProperties     Capability = "properties"
	SectionAnalytics      Capability = "analytics"
	SectionMarketInsights Capability = "market_insights"
	SectionAdminPanel     Capability = "admin_panel"
	SectionUserManagement Capability = "user_management"
)

// Actions.
const (
	ActionViewProperties   Capability = "view_properties"
	ActionManageProperties Capability = "manage_properties"
	ActionUploadContent    Capability = "upload_content"
	ActionExportReports    Capability = "export_reports"
	ActionManageUsers      Capability = "manage_users"
)

// roleCapabilities is the single source of truth for what each role may
// reach. It is never mutated after init.
var roleCapabilities = map[Role][]Capability{
	RoleInvestor: {
		SectionDashboard,
		SectionProperties,
		ActionViewProperties,
	},
	RoleProfessional: {
		SectionDashboard,
		SectionProperties,
		SectionAnalytics,
		SectionMarketInsights,
		ActionViewProperties,
		ActionManageProperties,
		ActionUploadContent,
		ActionExportReports,
	},
	RoleAdmin: {
		SectionDashboard,
		SectionProperties,
		SectionAnalytics,
		SectionMarketInsights,
		SectionAdminPanel,
		SectionUserManagement,
		ActionViewProperties,
		ActionManageProperties,
		ActionUploadContent,
		ActionExportReports,
		ActionManageUsers,
	},
}

// HasCapability returns true if the given role grants the capability.
func HasCapability(role Role, c Capability) bool {
	for _, granted := range roleCapabilities[role] {
		if granted == c {
			return true
		}
	}
	return false
}

// CapabilitiesFor returns a copy of the capabilities granted to a role.
// Returns nil for unknown roles.
func CapabilitiesFor(role Role) []Capability {
	caps := roleCapabilities[role]
	if caps == nil {
		return nil
	}
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// MinimumRoleFor returns the lowest-precedence role granting c, or RoleNone.
func MinimumRoleFor(c Capability) Role {
	for _, r := range All {
		if HasCapability(r, c) {
			return r
		}
	}
	return RoleNone
}
