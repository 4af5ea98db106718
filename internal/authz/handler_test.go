package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klinika/clinic-admin/internal/rbac"
	"github.com/klinika/clinic-admin/internal/shared"
)

func newSessionRouter(t *testing.T, dir *fakeDirectory, bus *InvalidationBus, web *shared.Session) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), web)))
		})
	})
	r.Use(SessionMiddleware(newMiddlewareConfig(dir, nil)))
	r.Route("/api/session", NewHandler(nil, bus).MountRoutes)
	return r
}

func decodePermissions(t *testing.T, rec *httptest.ResponseRecorder) PermissionsResponse {
	t.Helper()
	var resp PermissionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSwitchAccountReturnsNewPermissions(t *testing.T) {
	dir := newFakeDirectory()
	dir.put(1, northClinic, rbac.RoleAdmin)
	dir.put(1, southClinic, rbac.RoleCustom, rbac.PermViewReports)
	web := &shared.Session{}
	web.SetUser("u-1")
	router := newSessionRouter(t, dir, nil, web)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/account", strings.NewReader(`{"account_id":20}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodePermissions(t, rec)
	assert.Equal(t, StatusReady, resp.Status)
	assert.Equal(t, southClinic.ID, resp.AccountID)
	assert.Equal(t, []rbac.Key{rbac.PermViewReports}, resp.Permissions)
	assert.Equal(t, rbac.ProvenanceIndividual, resp.Provenance[rbac.PermViewReports])
	assert.Equal(t, southClinic.ID, web.Account())
}

func TestSwitchAccountRejectsForeignAccount(t *testing.T) {
	dir := newFakeDirectory()
	dir.put(1, northClinic, rbac.RoleAdmin)
	web := &shared.Session{}
	web.SetUser("u-1")
	router := newSessionRouter(t, dir, nil, web)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/account", strings.NewReader(`{"account_id":99}`)))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, northClinic.ID, web.Account())
}

func TestSwitchAccountValidatesBody(t *testing.T) {
	web := &shared.Session{}
	web.SetUser("u-1")
	router := newSessionRouter(t, newFakeDirectory(), nil, web)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/account", strings.NewReader(`{"account_id":0}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShowSessionListsMemberships(t *testing.T) {
	dir := newFakeDirectory()
	dir.put(1, northClinic, rbac.RoleAdmin)
	dir.put(1, southClinic, rbac.RoleDoctor)
	web := &shared.Session{}
	web.SetUser("u-1")
	router := newSessionRouter(t, dir, nil, web)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.IdentityID)
	assert.Len(t, resp.Memberships, 2)
	require.NotNil(t, resp.Selected)
	assert.Equal(t, northClinic.ID, resp.Selected.ID)
}

func TestWaitForChangeTimesOutUnchanged(t *testing.T) {
	dir := newFakeDirectory()
	dir.put(1, northClinic, rbac.RoleAdmin)
	web := &shared.Session{}
	web.SetUser("u-1")
	router := newSessionRouter(t, dir, NewInvalidationBus(nil, nil), web)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session/permissions/changes?wait=0", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodePermissions(t, rec)
	require.NotNil(t, resp.Changed)
	assert.False(t, *resp.Changed)
}

func TestWaitForChangeReportsInvalidation(t *testing.T) {
	dir := newFakeDirectory()
	dir.put(1, northClinic, rbac.RoleCustom)
	web := &shared.Session{}
	web.SetUser("u-1")
	bus := NewInvalidationBus(nil, nil)
	router := newSessionRouter(t, dir, bus, web)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session/permissions/changes?wait=5", nil))
		done <- rec
	}()

	deadline := time.After(3 * time.Second)
	for {
		dir.mu.Lock()
		dir.details[northClinic.ID] = rbac.MembershipDetail{Membership: rbac.Membership{
			IdentityID: 1, AccountID: northClinic.ID, Role: rbac.RoleCustom,
			IndividualGrants: []rbac.Key{rbac.PermViewStaff},
		}}
		dir.mu.Unlock()
		require.NoError(t, bus.Publish(context.Background(), Invalidation{IdentityID: 1, AccountID: northClinic.ID}))

		select {
		case rec := <-done:
			resp := decodePermissions(t, rec)
			require.NotNil(t, resp.Changed)
			assert.True(t, *resp.Changed)
			assert.Contains(t, resp.Permissions, rbac.PermViewStaff)
			return
		case <-deadline:
			t.Fatal("long poll did not observe invalidation")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
