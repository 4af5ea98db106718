package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/klinika/clinic-admin/internal/auth"
	"github.com/klinika/clinic-admin/internal/authz"
	"github.com/klinika/clinic-admin/internal/observability"
	"github.com/klinika/clinic-admin/internal/permissions"
	"github.com/klinika/clinic-admin/internal/rbac"
	"github.com/klinika/clinic-admin/internal/roles"
	"github.com/klinika/clinic-admin/internal/shared"
	"github.com/klinika/clinic-admin/internal/users"
	"github.com/klinika/clinic-admin/internal/view"
	"github.com/klinika/clinic-admin/jobs"
	"github.com/klinika/clinic-admin/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Templates          *view.Engine
	SessionManager     *shared.SessionManager
	CSRFManager        *shared.CSRFManager
	Authz              authz.MiddlewareConfig
	AuthHandler        *auth.Handler
	SessionHandler     *authz.Handler
	PermissionsHandler *permissions.Handler
	MembersHandler     *users.Handler
	RolesHandler       *roles.Handler
	JobHandler         *jobs.Handler
	RBACMiddleware     rbac.Middleware
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with clinic admin defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(authz.SessionMiddleware(params.Authz))

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			data := pageData(r, params.CSRFManager, "Dashboard", nil)
			name := "pages/home.html"
			if data.Tenant.Identity == nil {
				name = "pages/welcome.html"
				data.Title = "Welcome"
			}
			if err := params.Templates.Render(w, name, data); err != nil {
				params.Logger.Error("render home", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		})

		r.Get("/admin/permissions", func(w http.ResponseWriter, r *http.Request) {
			var catalog *rbac.Catalog
			if scope := authz.ScopeFromContext(r.Context()); scope != nil {
				catalog = scope.Resolver.Catalog()
			}
			data := pageData(r, params.CSRFManager, "Permissions", map[string]any{
				"Categories": permissions.GroupCatalog(catalog),
			})
			guard := rbac.Guard{Permission: rbac.PermManagePermissions}
			if err := params.Templates.RenderGated(w, guard, "pages/permissions.html", "pages/forbidden.html", data); err != nil {
				params.Logger.Error("render permissions", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		})

		if params.AuthHandler != nil {
			r.Route("/auth", params.AuthHandler.MountRoutes)
		}
		if params.SessionHandler != nil {
			r.Route("/api/session", params.SessionHandler.MountRoutes)
		}
		r.Route("/api", func(r chi.Router) {
			if params.PermissionsHandler != nil {
				params.PermissionsHandler.MountRoutes(r)
			}
			if params.MembersHandler != nil {
				params.MembersHandler.MountRoutes(r)
			}
			if params.RolesHandler != nil {
				params.RolesHandler.MountRoutes(r)
			}
		})
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAny(rbac.PermManageAccountSettings))
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// pageData fills the template data shared by every page.
func pageData(r *http.Request, csrf *shared.CSRFManager, title string, data any) view.TemplateData {
	td := view.TemplateData{Title: title, CurrentPath: r.URL.Path, Data: data}
	if sess := shared.SessionFromContext(r.Context()); sess != nil && csrf != nil {
		td.CSRFToken, _ = csrf.EnsureToken(r.Context(), sess)
	}
	if scope := authz.ScopeFromContext(r.Context()); scope != nil {
		td.Gate = scope.Gate
		td.Tenant = scope.Tenant.Snapshot()
	}
	return td
}

// staticCacheHandler caches static assets in browsers for one hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
