package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klinika/clinic-admin/internal/rbac"
)

func TestListRolesUsesCatalog(t *testing.T) {
	roles := NewService().ListRoles(rbac.BuiltinCatalog())

	require.Len(t, roles, len(rbac.Roles()))
	assert.Equal(t, rbac.RoleAdmin, roles[0].Role)
	assert.Equal(t, "Admin", roles[0].Label)
	assert.ElementsMatch(t, rbac.RoleDefaults(rbac.RoleAdmin), roles[0].Defaults)

	custom := roles[len(roles)-1]
	assert.Equal(t, rbac.RoleCustom, custom.Role)
	assert.True(t, custom.GrantsOnly)
	assert.NotNil(t, custom.Defaults)
	assert.Empty(t, custom.Defaults)
}

func TestListRolesDropsUnknownDefaults(t *testing.T) {
	catalog := rbac.MustCatalog([]rbac.Entry{
		{Key: rbac.PermViewRooms, DisplayKey: "View rooms", Category: "rooms"},
	}, map[string]string{"rooms": "Rooms"})

	for _, role := range NewService().ListRoles(catalog) {
		for _, key := range role.Defaults {
			assert.Equal(t, rbac.PermViewRooms, key, role.Role)
		}
	}
}
