package view

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klinika/clinic-admin/internal/rbac"
)

type keySet map[rbac.Key]bool

func (s keySet) HasPermission(key rbac.Key) bool { return s[key] }
func (s keySet) HasAny(keys ...rbac.Key) bool {
	for _, k := range keys {
		if s[k] {
			return true
		}
	}
	return false
}
func (s keySet) HasAll(keys ...rbac.Key) bool {
	for _, k := range keys {
		if !s[k] {
			return false
		}
	}
	return true
}

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine()
	assert.NoError(t, err, "Templates should parse without error")
	assert.NotNil(t, engine)
}

func TestPermissionHelpers(t *testing.T) {
	funcs := FuncMap()
	can := funcs["can"].(func(rbac.Authorizer, string) bool)
	canAny := funcs["canAny"].(func(rbac.Authorizer, ...string) bool)
	canAll := funcs["canAll"].(func(rbac.Authorizer, ...string) bool)
	gate := keySet{rbac.PermViewRooms: true}

	assert.True(t, can(gate, "VIEW_ROOMS"))
	assert.False(t, can(gate, "manage_rooms"))
	assert.True(t, canAny(gate, "manage_rooms", "view_rooms"))
	assert.False(t, canAny(gate))
	assert.True(t, canAll(gate))
	assert.False(t, canAll(gate, "view_rooms", "manage_rooms"))
	assert.False(t, can(nil, "view_rooms"))
	assert.False(t, canAll(nil))
}

func TestRenderGated(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)
	guard := rbac.Guard{Permission: rbac.PermManagePermissions}

	rec := httptest.NewRecorder()
	require.NoError(t, engine.RenderGated(rec, guard, "pages/home.html", "", TemplateData{Gate: keySet{}}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = httptest.NewRecorder()
	require.NoError(t, engine.RenderGated(rec, guard, "pages/home.html", "pages/forbidden.html", TemplateData{Title: "Denied", Gate: keySet{}}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "do not have access")

	rec = httptest.NewRecorder()
	require.NoError(t, engine.RenderGated(rec, guard, "pages/forbidden.html", "", TemplateData{Gate: keySet{rbac.PermManagePermissions: true}}))
	assert.Equal(t, http.StatusOK, rec.Code)
}
