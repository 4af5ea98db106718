package roles

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klinika/clinic-admin/internal/authz"
	"github.com/klinika/clinic-admin/internal/rbac"
	"github.com/klinika/clinic-admin/internal/tenancy"
)

type oneAccount struct{}

func (oneAccount) ListMemberships(ctx context.Context, identityID int64) ([]rbac.Account, error) {
	return []rbac.Account{{ID: 10, Name: "North Clinic"}}, nil
}

func TestRolesEndpointForStaffIdentity(t *testing.T) {
	ctx := context.Background()
	tenant := tenancy.NewSession(oneAccount{})
	require.NoError(t, tenant.Initialize(ctx, &rbac.Identity{ID: 1, IsStaff: true}))
	resolver := authz.NewResolver(nil, rbac.BuiltinCatalog(), authz.Options{})
	pair := tenant.Current()
	resolver.Resolve(ctx, pair.Identity, pair.Account)
	scope := &authz.Scope{Tenant: tenant, Resolver: resolver, Gate: resolver.Gate()}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			c := authz.ContextWithScope(req.Context(), scope)
			next.ServeHTTP(w, req.WithContext(rbac.ContextWithAuthorizer(c, scope.Gate)))
		})
	})
	r.Route("/api", NewHandler(nil, NewService(), rbac.Middleware{}).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/roles", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Roles []Role `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Roles, len(rbac.Roles()))
}

func TestRolesEndpointWithoutScope(t *testing.T) {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(rbac.ContextWithAuthorizer(req.Context(), allowAll{})))
		})
	})
	r.Route("/api", NewHandler(nil, NewService(), rbac.Middleware{}).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/roles", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type allowAll struct{}

func (allowAll) HasPermission(rbac.Key) bool { return true }
func (allowAll) HasAny(...rbac.Key) bool     { return true }
func (allowAll) HasAll(...rbac.Key) bool     { return true }
