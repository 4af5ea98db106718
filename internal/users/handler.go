package users

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/klinika/clinic-admin/internal/authz"
	"github.com/klinika/clinic-admin/internal/platform/httpx"
	"github.com/klinika/clinic-admin/internal/rbac"
)

// Handler lists the members of the selected account.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers member routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(rbac.PermViewStaff, rbac.PermManageStaff, rbac.PermManagePermissions)).Get("/members", h.listMembers)
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	scope := authz.ScopeFromContext(r.Context())
	if scope == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	accountID := scope.Tenant.Current().AccountID()
	if accountID == 0 {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	members, err := h.service.ListMembers(r.Context(), accountID)
	if err != nil {
		h.logger.Error("list members failed", slog.Int64("account_id", accountID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"account_id": accountID, "members": members})
}
