package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAnonymousIsEmpty(t *testing.T) {
	res := Resolve(BuiltinCatalog(), nil, &Membership{Role: RoleAdmin})
	assert.Equal(t, 0, res.Set.Len())
}

func TestResolveStaffBypassIgnoresMembership(t *testing.T) {
	catalog := BuiltinCatalog()
	for _, identity := range []*Identity{{ID: 1, IsStaff: true}, {ID: 2, IsSuperuser: true}} {
		res := Resolve(catalog, identity, nil)
		for _, k := range catalog.All() {
			assert.True(t, res.Set.Has(k), "staff should hold %s", k)
			p, _ := res.Set.Provenance(k)
			assert.Equal(t, ProvenanceRole, p)
		}
	}
}

func TestResolveOwnerGetsFullCatalog(t *testing.T) {
	catalog := BuiltinCatalog()
	res := Resolve(catalog, &Identity{ID: 7}, &Membership{Role: RoleCustom, IsOwner: true})
	assert.Equal(t, catalog.Len(), res.Set.Len())
	assert.True(t, res.Set.HasAll(catalog.All()...))
}

func TestResolveMissingMembershipIsEmpty(t *testing.T) {
	res := Resolve(BuiltinCatalog(), &Identity{ID: 7}, nil)
	assert.Equal(t, 0, res.Set.Len())
}

func TestResolveCustomRoleWithoutGrants(t *testing.T) {
	catalog := BuiltinCatalog()
	res := Resolve(catalog, &Identity{ID: 7}, &Membership{Role: RoleCustom})
	for _, k := range catalog.All() {
		assert.False(t, res.Set.Has(k))
	}
}

func TestResolveCustomRoleEqualsGrants(t *testing.T) {
	grants := []Key{PermViewReports, PermManageRooms}
	res := Resolve(BuiltinCatalog(), &Identity{ID: 7}, &Membership{Role: RoleCustom, IndividualGrants: grants})
	assert.Equal(t, []Key{PermManageRooms, PermViewReports}, res.Set.Keys())
	for _, k := range grants {
		p, ok := res.Set.Provenance(k)
		require.True(t, ok)
		assert.Equal(t, ProvenanceIndividual, p)
	}
}

func TestResolveDoctorWithIndividualGrant(t *testing.T) {
	res := Resolve(BuiltinCatalog(), &Identity{ID: 7}, &Membership{Role: RoleDoctor, IndividualGrants: []Key{PermViewReports, PermViewPatients}})

	expected := append(RoleDefaults(RoleDoctor), PermViewReports)
	assert.ElementsMatch(t, expected, res.Set.Keys())

	p, _ := res.Set.Provenance(PermViewReports)
	assert.Equal(t, ProvenanceIndividual, p)
	// Granted individually and by role: role wins.
	p, _ = res.Set.Provenance(PermViewPatients)
	assert.Equal(t, ProvenanceRole, p)
}

func TestResolveDropsUnknownGrants(t *testing.T) {
	res := Resolve(BuiltinCatalog(), &Identity{ID: 7}, &Membership{Role: RoleCustom, IndividualGrants: []Key{"launch_rockets", PermViewRooms}})
	assert.Equal(t, []Key{PermViewRooms}, res.Set.Keys())
	assert.Equal(t, []Key{"launch_rockets"}, res.Dropped)
}

func TestResolveWithoutCatalogFailsClosed(t *testing.T) {
	res := Resolve(nil, &Identity{ID: 1, IsStaff: true}, nil)
	assert.Equal(t, 0, res.Set.Len())
}

func TestEffectiveSetVacuousQueries(t *testing.T) {
	set := Resolve(BuiltinCatalog(), &Identity{ID: 1, IsStaff: true}, nil).Set
	assert.True(t, set.HasAll())
	assert.False(t, set.HasAny())
	assert.True(t, EmptySet().HasAll())
	assert.False(t, EmptySet().HasAny())
}

func TestRoleDefaultsCustomAlwaysEmpty(t *testing.T) {
	assert.Empty(t, RoleDefaults(RoleCustom))
	assert.Empty(t, RoleDefaults(Role("janitor")))
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Doctor ")
	require.NoError(t, err)
	assert.Equal(t, RoleDoctor, role)

	_, err = ParseRole("owner")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestIsViewOnly(t *testing.T) {
	assert.True(t, IsViewOnly(PermViewReports))
	assert.True(t, IsViewOnly("list_invoices"))
	assert.False(t, IsViewOnly(PermManageRooms))
	assert.False(t, IsViewOnly("preview_manage"))
}
