package authz

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/klinika/clinic-admin/internal/rbac"
	"github.com/klinika/clinic-admin/internal/shared"
	"github.com/klinika/clinic-admin/internal/tenancy"
)

// IdentityProvider resolves the session user into an identity. A nil identity
// with nil error means the user is unknown or inactive.
type IdentityProvider interface {
	CurrentIdentity(ctx context.Context, userID string) (*rbac.Identity, error)
}

// CatalogProvider loads the permission catalog.
type CatalogProvider interface {
	Load(ctx context.Context) (*rbac.Catalog, error)
}

// Directory is the membership collaborator used per request.
type Directory interface {
	tenancy.MembershipLister
	MembershipSource
}

// MiddlewareConfig aggregates dependencies of SessionMiddleware.
type MiddlewareConfig struct {
	Identities IdentityProvider
	Catalog    CatalogProvider
	Directory  Directory
	Logger     *slog.Logger
	Observer   Observer
}

// SessionMiddleware builds the tenant session and resolver for every request,
// performing a fresh authority check, and stores the gate in the context.
func SessionMiddleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			web := shared.SessionFromContext(ctx)

			scope := Bootstrap(ctx, cfg, logger, web)
			persistSelection(web, scope.Tenant.Snapshot())

			ctx = ContextWithScope(ctx, scope)
			ctx = rbac.ContextWithAuthorizer(ctx, scope.Gate)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Bootstrap loads identity and catalog concurrently, initializes the tenant
// session and resolves its permissions. Failures degrade to anonymous or
// fail-closed scopes and are logged.
func Bootstrap(ctx context.Context, cfg MiddlewareConfig, logger *slog.Logger, web *shared.Session) *Scope {
	var (
		identity *rbac.Identity
		catalog  *rbac.Catalog
	)
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Catalog != nil {
		g.Go(func() error {
			c, err := cfg.Catalog.Load(gctx)
			if err != nil {
				return fmt.Errorf("%w: %w", rbac.ErrCatalogLoad, err)
			}
			catalog = c
			return nil
		})
	}
	if web != nil && web.User() != "" && cfg.Identities != nil {
		g.Go(func() error {
			id, err := cfg.Identities.CurrentIdentity(gctx, web.User())
			if err != nil {
				return fmt.Errorf("%w: %w", tenancy.ErrIdentityUnavailable, err)
			}
			identity = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn("authz bootstrap", slog.Any("error", err))
	}

	tenant := tenancy.NewSession(cfg.Directory)
	var opts []tenancy.InitOption
	if web != nil && web.Account() > 0 {
		opts = append(opts, tenancy.PreferAccount(web.Account()))
	}
	if err := tenant.Initialize(ctx, identity, opts...); err != nil {
		logger.Warn("authz tenant initialize", slog.Any("error", err))
	}

	resolver := NewResolver(cfg.Directory, catalog, Options{Logger: logger, Observer: cfg.Observer})
	pair := tenant.Current()
	resolver.Resolve(ctx, pair.Identity, pair.Account)
	return &Scope{Tenant: tenant, Resolver: resolver, Gate: resolver.Gate()}
}

// persistSelection records the selected account once memberships loaded, so a
// transient failure does not forget the user's choice.
func persistSelection(web *shared.Session, st tenancy.State) {
	if web == nil || web.Destroyed() || st.Status != tenancy.StatusReady {
		return
	}
	var id int64
	if st.Selected != nil {
		id = st.Selected.ID
	}
	web.SetAccount(id)
}
