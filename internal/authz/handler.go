package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/klinika/clinic-admin/internal/platform/httpx"
	"github.com/klinika/clinic-admin/internal/rbac"
	"github.com/klinika/clinic-admin/internal/shared"
	"github.com/klinika/clinic-admin/internal/tenancy"
)

const (
	defaultWait = 20 * time.Second
	maxWait     = 25 * time.Second
)

// Handler exposes the tenant session and the caller's permissions.
type Handler struct {
	logger    *slog.Logger
	bus       *InvalidationBus
	validator *validator.Validate
}

// NewHandler constructs a Handler. bus may be nil, in which case change
// polling only times out.
func NewHandler(logger *slog.Logger, bus *InvalidationBus) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, bus: bus, validator: validator.New()}
}

// MountRoutes registers session routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.showSession)
	r.Post("/account", h.switchAccount)
	r.Get("/permissions", h.showPermissions)
	r.Post("/refresh", h.refresh)
	r.Get("/permissions/changes", h.waitForChange)
}

type sessionResponse struct {
	Status      tenancy.Status `json:"status"`
	Error       string         `json:"error,omitempty"`
	IdentityID  int64          `json:"identity_id,omitempty"`
	IsStaff     bool           `json:"is_staff"`
	Memberships []rbac.Account `json:"memberships"`
	Selected    *rbac.Account  `json:"selected_account"`
}

// PermissionsResponse is the wire shape of a resolver state.
type PermissionsResponse struct {
	Status      Status                       `json:"status"`
	Error       string                       `json:"error,omitempty"`
	IdentityID  int64                        `json:"identity_id,omitempty"`
	AccountID   int64                        `json:"account_id,omitempty"`
	Permissions []rbac.Key                   `json:"permissions"`
	Provenance  map[rbac.Key]rbac.Provenance `json:"provenance"`
	Changed     *bool                        `json:"changed,omitempty"`
}

// NewPermissionsResponse converts a state for the wire.
func NewPermissionsResponse(st State) PermissionsResponse {
	resp := PermissionsResponse{
		Status:      st.Status,
		IdentityID:  st.IdentityID,
		AccountID:   st.AccountID,
		Permissions: st.Effective.Keys(),
		Provenance:  st.Effective.ProvenanceMap(),
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}

type switchAccountRequest struct {
	AccountID int64 `json:"account_id" validate:"required,gt=0"`
}

func (h *Handler) showSession(w http.ResponseWriter, r *http.Request) {
	scope := ScopeFromContext(r.Context())
	if scope == nil {
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	httpx.JSON(w, http.StatusOK, newSessionResponse(scope.Tenant.Snapshot()))
}

func (h *Handler) switchAccount(w http.ResponseWriter, r *http.Request) {
	scope := ScopeFromContext(r.Context())
	if scope == nil {
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	var req switchAccountRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := scope.Tenant.SwitchAccount(req.AccountID); err != nil {
		switch {
		case errors.Is(err, tenancy.ErrIdentityUnavailable):
			httpx.RespondError(w, httpx.Wrap(httpx.ErrUnauthorized, err))
		case errors.Is(err, tenancy.ErrMembershipNotFound):
			httpx.RespondError(w, httpx.Wrap(httpx.ErrNotFound, err))
		default:
			httpx.RespondError(w, err)
		}
		return
	}
	if web := shared.SessionFromContext(r.Context()); web != nil {
		web.SetAccount(req.AccountID)
	}
	pair := scope.Tenant.Current()
	st := scope.Resolver.Resolve(r.Context(), pair.Identity, pair.Account)
	h.logger.Info("account switched",
		slog.Int64("identity_id", pair.IdentityID()),
		slog.Int64("account_id", req.AccountID),
		slog.String("status", string(st.Status)))
	httpx.JSON(w, http.StatusOK, NewPermissionsResponse(st))
}

func (h *Handler) showPermissions(w http.ResponseWriter, r *http.Request) {
	scope := ScopeFromContext(r.Context())
	if scope == nil {
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	httpx.JSON(w, http.StatusOK, NewPermissionsResponse(scope.Resolver.State()))
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	scope := ScopeFromContext(r.Context())
	if scope == nil {
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	httpx.JSON(w, http.StatusOK, NewPermissionsResponse(scope.Gate.Refresh(r.Context())))
}

// waitForChange long-polls until the caller's membership is invalidated or
// the wait elapses, then answers with the current permissions.
func (h *Handler) waitForChange(w http.ResponseWriter, r *http.Request) {
	scope := ScopeFromContext(r.Context())
	if scope == nil {
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	wait := defaultWait
	if raw := r.URL.Query().Get("wait"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
			wait = time.Duration(secs) * time.Second
		}
	}
	if wait > maxWait {
		wait = maxWait
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	applied := make(chan State, 1)
	stopStates := scope.Resolver.Subscribe(func(st State) {
		if st.Status == StatusLoading {
			return
		}
		select {
		case applied <- st:
		default:
		}
	})
	defer stopStates()

	stopTracking := scope.Resolver.Track(ctx, scope.Tenant)
	defer stopTracking()
	// Track starts with a fresh resolution; wait for it before listening.
	select {
	case <-applied:
	case <-ctx.Done():
		h.respondChange(w, scope, false)
		return
	}

	if h.bus != nil {
		pair := scope.Tenant.Current()
		stopBus := h.bus.Subscribe(func(inv Invalidation) {
			scope.Resolver.Invalidate(inv.IdentityID, inv.AccountID)
		})
		defer stopBus()
		h.logger.Debug("waiting for permission change",
			slog.Int64("identity_id", pair.IdentityID()),
			slog.Int64("account_id", pair.AccountID()))
	}

	select {
	case <-applied:
		h.respondChange(w, scope, true)
	case <-ctx.Done():
		h.respondChange(w, scope, false)
	}
}

func (h *Handler) respondChange(w http.ResponseWriter, scope *Scope, changed bool) {
	resp := NewPermissionsResponse(scope.Resolver.State())
	resp.Changed = &changed
	httpx.JSON(w, http.StatusOK, resp)
}

func newSessionResponse(st tenancy.State) sessionResponse {
	resp := sessionResponse{
		Status:      st.Status,
		Memberships: st.Memberships,
		Selected:    st.Selected,
	}
	if resp.Memberships == nil {
		resp.Memberships = []rbac.Account{}
	}
	if st.Identity != nil {
		resp.IdentityID = st.Identity.ID
		resp.IsStaff = st.Identity.Bypass()
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}
