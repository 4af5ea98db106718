package permissions

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/klinika/clinic-admin/internal/authz"
	"github.com/klinika/clinic-admin/internal/platform/httpx"
	"github.com/klinika/clinic-admin/internal/rbac"
)

var errNoAccount = errors.New("permissions: no account selected")

// Bulk actions accepted by the bulk endpoint.
const (
	BulkSelectAll       = "select_all"
	BulkClearIndividual = "clear_individual"
	BulkViewOnly        = "view_only"
)

// Handler exposes the permission catalog and member grant administration.
type Handler struct {
	service   *Service
	logger    *slog.Logger
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:   service,
		logger:    logger,
		validator: validator.New(),
		rbac:      rbac.Middleware{Logger: logger},
	}
}

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/permissions/catalog", h.showCatalog)
	r.Route("/members/{userID}/permissions", func(r chi.Router) {
		r.Use(h.rbac.RequireAll(rbac.PermManagePermissions))
		r.Get("/", h.showMember)
		r.Put("/", h.replaceMember)
		r.Post("/bulk", h.bulkMember)
	})
}

// CategoryGroup is one catalog category with its entries.
type CategoryGroup struct {
	Key         string       `json:"key"`
	Label       string       `json:"label"`
	Permissions []rbac.Entry `json:"permissions"`
}

type catalogResponse struct {
	Categories []CategoryGroup `json:"categories"`
}

// GroupCatalog groups entries by category in order of first appearance.
func GroupCatalog(catalog *rbac.Catalog) []CategoryGroup {
	labels := catalog.Categories()
	grouped := catalog.ByCategory()
	out := make([]CategoryGroup, 0, len(grouped))
	seen := make(map[string]struct{}, len(grouped))
	for _, e := range catalog.List() {
		if _, ok := seen[e.Category]; ok {
			continue
		}
		seen[e.Category] = struct{}{}
		out = append(out, CategoryGroup{Key: e.Category, Label: labels[e.Category], Permissions: grouped[e.Category]})
	}
	return out
}

type grantResponse struct {
	Key        rbac.Key        `json:"key"`
	Provenance rbac.Provenance `json:"provenance"`
}

type memberResponse struct {
	IdentityID            int64           `json:"identity_id"`
	AccountID             int64           `json:"account_id"`
	Role                  rbac.Role       `json:"role"`
	IsOwner               bool            `json:"is_owner"`
	RolePermissions       []rbac.Key      `json:"role_permissions"`
	IndividualPermissions []rbac.Key      `json:"individual_permissions"`
	Effective             []grantResponse `json:"effective"`
	ActorRefreshed        bool            `json:"actor_refreshed,omitempty"`
}

type replaceRequest struct {
	Permissions []string `json:"permissions" validate:"dive,required,max=100"`
	Note        string   `json:"note" validate:"max=500"`
}

type bulkRequest struct {
	Action string `json:"action" validate:"required,oneof=select_all clear_individual view_only"`
	Note   string `json:"note" validate:"max=500"`
}

func (h *Handler) showCatalog(w http.ResponseWriter, r *http.Request) {
	scope := authz.ScopeFromContext(r.Context())
	if scope == nil || scope.Tenant.Current().Identity == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	catalog := scope.Resolver.Catalog()
	if catalog.Len() == 0 {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnavailable, rbac.ErrCatalogLoad))
		return
	}
	resp := catalogResponse{Categories: GroupCatalog(catalog)}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) showMember(w http.ResponseWriter, r *http.Request) {
	scope, member, ok := h.target(w, r)
	if !ok {
		return
	}
	detail, err := h.service.Detail(r.Context(), member.IdentityID, member.AccountID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newMemberResponse(scope.Resolver.Catalog(), detail))
}

func (h *Handler) replaceMember(w http.ResponseWriter, r *http.Request) {
	scope, member, ok := h.target(w, r)
	if !ok {
		return
	}
	var req replaceRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.edit(w, r, scope, member, req.Note, func(e *Editor) error {
		return e.Replace(req.Permissions)
	})
}

func (h *Handler) bulkMember(w http.ResponseWriter, r *http.Request) {
	scope, member, ok := h.target(w, r)
	if !ok {
		return
	}
	var req bulkRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.edit(w, r, scope, member, req.Note, func(e *Editor) error {
		switch req.Action {
		case BulkSelectAll:
			return e.SelectAll()
		case BulkClearIndividual:
			return e.ClearIndividual()
		default:
			return e.SetViewOnly()
		}
	})
}

// edit runs one open, mutate, save cycle of an Editor.
func (h *Handler) edit(w http.ResponseWriter, r *http.Request, scope *authz.Scope, member Member, note string, mutate func(*Editor) error) {
	ctx := r.Context()
	pair := scope.Tenant.Current()
	refreshed := false
	editor := NewEditor(EditorConfig{
		Catalog:        scope.Resolver.Catalog(),
		Actor:          pair.Identity,
		ActorAccountID: pair.AccountID(),
		Gate:           scope.Gate,
		Source:         h.service,
		Writer:         h.service,
		OnOwnChange: func(identityID, accountID int64) {
			scope.Resolver.Invalidate(identityID, accountID)
			scope.Gate.Refresh(ctx)
			refreshed = true
		},
		Logger: h.logger,
	})
	if err := editor.Open(ctx, member); err != nil {
		h.respondError(w, err)
		return
	}
	defer editor.Close()
	if err := mutate(editor); err != nil {
		h.respondError(w, err)
		return
	}
	detail, err := editor.Save(ctx, note)
	if err != nil {
		h.respondError(w, err)
		return
	}
	resp := newMemberResponse(scope.Resolver.Catalog(), detail)
	resp.ActorRefreshed = refreshed
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (*authz.Scope, Member, bool) {
	scope := authz.ScopeFromContext(r.Context())
	if scope == nil {
		httpx.RespondError(w, httpx.ErrUnavailable)
		return nil, Member{}, false
	}
	identityID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || identityID <= 0 {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, errors.New("invalid user id")))
		return nil, Member{}, false
	}
	accountID := scope.Tenant.Current().AccountID()
	if accountID == 0 {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrConflict, errNoAccount))
		return nil, Member{}, false
	}
	return scope, Member{IdentityID: identityID, AccountID: accountID}, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case IsDenied(err):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrForbidden, err))
	case errors.Is(err, rbac.ErrUnknownPermission), errors.Is(err, ErrRoleProvenance):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
	case errors.Is(err, ErrSaveConflict), errors.Is(err, ErrInvalidState):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrConflict, err))
	case errors.Is(err, ErrMemberNotFound):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrNotFound, err))
	case errors.Is(err, rbac.ErrCatalogLoad):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrUnavailable, err))
	default:
		h.logger.Error("permissions request", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func newMemberResponse(catalog *rbac.Catalog, detail rbac.MembershipDetail) memberResponse {
	res := rbac.Resolve(catalog, &rbac.Identity{ID: detail.IdentityID}, &detail.Membership)
	effective := make([]grantResponse, 0, res.Set.Len())
	for _, k := range res.Set.Keys() {
		prov, _ := res.Set.Provenance(k)
		effective = append(effective, grantResponse{Key: k, Provenance: prov})
	}
	sort.Slice(effective, func(i, j int) bool { return effective[i].Key < effective[j].Key })
	return memberResponse{
		IdentityID:            detail.IdentityID,
		AccountID:             detail.AccountID,
		Role:                  detail.Role,
		IsOwner:               detail.IsOwner,
		RolePermissions:       nonNil(detail.RolePermissions),
		IndividualPermissions: nonNil(detail.IndividualPermissions),
		Effective:             effective,
	}
}

func nonNil(keys []rbac.Key) []rbac.Key {
	if keys == nil {
		return []rbac.Key{}
	}
	return keys
}
