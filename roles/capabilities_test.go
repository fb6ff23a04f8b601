package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCapability(t *testing.T) {
	assert.True(t, HasCapability(RoleInvestor, SectionDashboard))
	assert.False(t, HasCapability(RoleInvestor, SectionAnalytics))
	assert.False(t, HasCapability(RoleInvestor, ActionUploadContent))

	assert.True(t, HasCapability(RoleProfessional, ActionUploadContent))
	assert.False(t, HasCapability(RoleProfessional, ActionManageUsers))

	assert.True(t, HasCapability(RoleAdmin, ActionManageUsers))
	assert.False(t, HasCapability(RoleNone, SectionDashboard))
}

func TestCapabilitiesAreNested(t *testing.T) {
	for i := 1; i < len(All); i++ {
		lower, higher := All[i-1], All[i]
		for _, c := range CapabilitiesFor(lower) {
			assert.True(t, HasCapability(higher, c), "%s should inherit %s from %s", higher, c, lower)
		}
	}
}

func TestCapabilitiesFor_ReturnsCopy(t *testing.T) {
	caps := CapabilitiesFor(RoleInvestor)
	caps[0] = ActionManageUsers

	assert.False(t, HasCapability(RoleInvestor, ActionManageUsers))
	assert.Nil(t, CapabilitiesFor(RoleNone))
}

func TestMinimumRoleFor(t *testing.T) {
	assert.Equal(t, RoleInvestor, MinimumRoleFor(SectionProperties))
	assert.Equal(t, RoleProfessional, MinimumRoleFor(ActionUploadContent))
	assert.Equal(t, RoleAdmin, MinimumRoleFor(SectionAdminPanel))
	assert.Equal(t, RoleNone, MinimumRoleFor(Capability("teleport")))
}
