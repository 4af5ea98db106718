package users

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klinika/clinic-admin/internal/authz"
	"github.com/klinika/clinic-admin/internal/rbac"
	"github.com/klinika/clinic-admin/internal/tenancy"
)

type accountLister []rbac.Account

func (l accountLister) ListMemberships(ctx context.Context, identityID int64) ([]rbac.Account, error) {
	return l, nil
}

type roleSource rbac.Role

func (s roleSource) GetMembershipDetail(ctx context.Context, identityID, accountID int64) (rbac.MembershipDetail, error) {
	role := rbac.Role(s)
	return rbac.MembershipDetail{
		Membership:      rbac.Membership{IdentityID: identityID, AccountID: accountID, Role: role},
		RolePermissions: rbac.RoleDefaults(role),
	}, nil
}

type repoStub struct {
	members   map[int64][]Member
	err       error
	requested int64
}

func (s *repoStub) ListMembers(ctx context.Context, accountID int64) ([]Member, error) {
	s.requested = accountID
	return s.members[accountID], s.err
}

func newRouter(t *testing.T, role rbac.Role, repo *repoStub) http.Handler {
	t.Helper()
	ctx := context.Background()
	tenant := tenancy.NewSession(accountLister{{ID: 10, Name: "North Clinic"}})
	require.NoError(t, tenant.Initialize(ctx, &rbac.Identity{ID: 1}))
	resolver := authz.NewResolver(roleSource(role), rbac.BuiltinCatalog(), authz.Options{})
	pair := tenant.Current()
	resolver.Resolve(ctx, pair.Identity, pair.Account)
	scope := &authz.Scope{Tenant: tenant, Resolver: resolver, Gate: resolver.Gate()}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			c := authz.ContextWithScope(req.Context(), scope)
			c = rbac.ContextWithAuthorizer(c, scope.Gate)
			next.ServeHTTP(w, req.WithContext(c))
		})
	})
	r.Route("/api", NewHandler(nil, NewService(repo), rbac.Middleware{}).MountRoutes)
	return r
}

func TestListMembersForSelectedAccount(t *testing.T) {
	joined := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	repo := &repoStub{members: map[int64][]Member{10: {
		{IdentityID: 1, Email: "owner@klinika.test", Role: rbac.RoleAdmin, IsOwner: true, IsActive: true, JoinedAt: joined},
		{IdentityID: 2, Email: "desk@klinika.test", Role: rbac.RoleReceptionist, IsActive: true, JoinedAt: joined},
	}}}
	router := newRouter(t, rbac.RoleReceptionist, repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/members", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(10), repo.requested)
	var body struct {
		AccountID int64    `json:"account_id"`
		Members   []Member `json:"members"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(10), body.AccountID)
	require.Len(t, body.Members, 2)
	assert.True(t, body.Members[0].IsOwner)
	assert.Equal(t, rbac.RoleReceptionist, body.Members[1].Role)
}

func TestListMembersRequiresStaffPermission(t *testing.T) {
	repo := &repoStub{}
	router := newRouter(t, rbac.RoleCustom, repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/members", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, repo.requested)
}

func TestListMembersFailure(t *testing.T) {
	router := newRouter(t, rbac.RoleAdmin, &repoStub{err: errors.New("db down")})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/members", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServiceReturnsEmptySlice(t *testing.T) {
	members, err := NewService(&repoStub{}).ListMembers(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, members)
	assert.Empty(t, members)
}
