package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/klinika/clinic-admin/internal/rbac"
)

func TestZeroGateDeniesEverything(t *testing.T) {
	gate := GateFromContext(context.Background())

	assert.False(t, gate.HasPermission(rbac.PermViewRooms))
	assert.False(t, gate.HasAny(rbac.PermViewRooms))
	assert.True(t, gate.HasAll())
	assert.Equal(t, StatusError, gate.Status())
	assert.ErrorIs(t, gate.Refresh(context.Background()).Err, rbac.ErrMembershipLoad)
}

func TestGateAllowsGuard(t *testing.T) {
	dir := newFakeDirectory()
	dir.put(1, northClinic, rbac.RoleReceptionist)
	r := NewResolver(dir, rbac.BuiltinCatalog(), Options{})
	r.Resolve(context.Background(), &rbac.Identity{ID: 1}, &northClinic)
	gate := r.Gate()

	assert.True(t, gate.Allows(rbac.Guard{}))
	assert.True(t, gate.Allows(rbac.Guard{Permissions: []rbac.Key{rbac.PermManagePermissions, rbac.PermViewAppointments}}))
	assert.False(t, gate.Allows(rbac.Guard{Permissions: []rbac.Key{rbac.PermManagePermissions, rbac.PermViewAppointments}, RequireAll: true}))
}

func TestGateEffectiveReflectsProvenance(t *testing.T) {
	dir := newFakeDirectory()
	dir.put(1, northClinic, rbac.RoleCustom, rbac.PermExportReports)
	r := NewResolver(dir, rbac.BuiltinCatalog(), Options{})
	r.Resolve(context.Background(), &rbac.Identity{ID: 1}, &northClinic)

	prov, ok := r.Gate().Effective().Provenance(rbac.PermExportReports)
	assert.True(t, ok)
	assert.Equal(t, rbac.ProvenanceIndividual, prov)
}
