package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/klinika/clinic-admin/internal/authz"
	"github.com/klinika/clinic-admin/internal/platform/httpx"
	"github.com/klinika/clinic-admin/internal/rbac"
)

// Handler exposes the role catalogue.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(rbac.PermViewStaff, rbac.PermManagePermissions)).Get("/roles", h.listRoles)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	scope := authz.ScopeFromContext(r.Context())
	if scope == nil || scope.Resolver.Catalog().Len() == 0 {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnavailable, rbac.ErrCatalogLoad))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": h.service.ListRoles(scope.Resolver.Catalog())})
}
