// Package permissions implements the administration flow for individual
// permission grants of clinic members.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/klinika/clinic-admin/internal/rbac"
)

// Phase is the editor lifecycle state.
type Phase string

const (
	PhaseClosed        Phase = "closed"
	PhaseLoadingDetail Phase = "loading_detail"
	PhaseEditing       Phase = "editing"
	PhaseSaving        Phase = "saving"
)

// Member identifies the membership being edited. Effective holds the keys the
// caller already knows to be effective; they seed a degraded editor when the
// detail cannot be loaded.
type Member struct {
	IdentityID int64
	AccountID  int64
	IsOwner    bool
	Effective  []rbac.Key
}

// DetailSource loads membership details.
type DetailSource interface {
	GetMembershipDetail(ctx context.Context, identityID, accountID int64) (rbac.MembershipDetail, error)
}

// GrantWriter persists a membership's individual grants.
type GrantWriter interface {
	UpdateIndividualGrants(ctx context.Context, actor *rbac.Identity, member Member, keys []rbac.Key, note string) (rbac.MembershipDetail, error)
}

// EditorConfig aggregates Editor dependencies.
type EditorConfig struct {
	Catalog        *rbac.Catalog
	Actor          *rbac.Identity
	ActorAccountID int64
	Gate           rbac.Authorizer
	Source         DetailSource
	Writer         GrantWriter
	// OnOwnChange runs after a successful save of the actor's own membership.
	OnOwnChange func(identityID, accountID int64)
	Logger      *slog.Logger
}

// Editor is one permission edit session.
type Editor struct {
	cfg    EditorConfig
	logger *slog.Logger

	mu       sync.Mutex
	id       string
	phase    Phase
	member   Member
	role     rbac.Role
	degraded bool
	roleKeys map[rbac.Key]struct{}
	selected map[rbac.Key]struct{}
	saved    *rbac.MembershipDetail
	err      error
}

// NewEditor constructs a closed Editor.
func NewEditor(cfg EditorConfig) *Editor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Editor{cfg: cfg, logger: logger, phase: PhaseClosed}
}

// Open loads the member's detail and enters editing. A failed load degrades to
// treating every known effective key as an individual grant.
func (e *Editor) Open(ctx context.Context, member Member) error {
	if err := e.authorize(); err != nil {
		return err
	}
	if member.IsOwner {
		return ErrOwnerTarget
	}

	e.mu.Lock()
	if e.phase != PhaseClosed {
		e.mu.Unlock()
		return fmt.Errorf("%w: open while %s", ErrInvalidState, e.phase)
	}
	e.phase = PhaseLoadingDetail
	e.id = uuid.NewString()
	e.member = member
	e.err = nil
	e.saved = nil
	e.mu.Unlock()

	detail, err := e.cfg.Source.GetMembershipDetail(ctx, member.IdentityID, member.AccountID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.logger.Warn("permission editor degraded",
			slog.String("editor_id", e.id),
			slog.Int64("identity_id", member.IdentityID),
			slog.Int64("account_id", member.AccountID),
			slog.Any("error", err))
		known, _ := e.cfg.Catalog.Known(member.Effective)
		e.role = ""
		e.degraded = true
		e.roleKeys = map[rbac.Key]struct{}{}
		e.selected = toSet(known)
		e.phase = PhaseEditing
		return nil
	}
	if detail.IsOwner {
		e.phase = PhaseClosed
		return ErrOwnerTarget
	}

	e.member.IsOwner = false
	e.member.Effective = detail.EffectivePermissions
	e.role = detail.Role
	e.degraded = false
	roleKeys, _ := e.cfg.Catalog.Known(detail.RolePermissions)
	e.roleKeys = toSet(roleKeys)
	individual, _ := e.cfg.Catalog.Known(detail.IndividualPermissions)
	e.selected = toSet(append(roleKeys, individual...))
	e.phase = PhaseEditing
	return nil
}

// Toggle flips key in the edited set. Keys implied by the member's role are
// left untouched and reported with ErrRoleProvenance.
func (e *Editor) Toggle(raw string) error {
	key, err := e.cfg.Catalog.Parse(raw)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireEditing(); err != nil {
		return err
	}
	if _, ok := e.roleKeys[key]; ok && e.role != rbac.RoleCustom {
		return fmt.Errorf("%w: %s", ErrRoleProvenance, key)
	}
	if _, ok := e.selected[key]; ok {
		delete(e.selected, key)
	} else {
		e.selected[key] = struct{}{}
	}
	return nil
}

// Replace sets the edited set to the role defaults plus keys.
func (e *Editor) Replace(raw []string) error {
	keys, err := e.cfg.Catalog.ParseAll(raw)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireEditing(); err != nil {
		return err
	}
	e.selected = e.roleDefaultsLocked()
	for _, k := range keys {
		e.selected[k] = struct{}{}
	}
	return nil
}

// SelectAll selects every catalog key.
func (e *Editor) SelectAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireEditing(); err != nil {
		return err
	}
	e.selected = toSet(e.cfg.Catalog.All())
	return nil
}

// ClearIndividual resets the edited set to the role defaults, or to nothing
// for custom roles.
func (e *Editor) ClearIndividual() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireEditing(); err != nil {
		return err
	}
	e.selected = e.roleDefaultsLocked()
	return nil
}

// SetViewOnly selects the role defaults plus every read-only catalog key.
func (e *Editor) SetViewOnly() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireEditing(); err != nil {
		return err
	}
	selected := e.roleDefaultsLocked()
	for _, k := range e.cfg.Catalog.All() {
		if rbac.IsViewOnly(k) {
			selected[k] = struct{}{}
		}
	}
	e.selected = selected
	return nil
}

// Save submits the edited individual grants. On failure the editor stays in
// editing with the error retained.
func (e *Editor) Save(ctx context.Context, note string) (rbac.MembershipDetail, error) {
	if err := e.authorize(); err != nil {
		return rbac.MembershipDetail{}, err
	}
	e.mu.Lock()
	if err := e.requireEditing(); err != nil {
		e.mu.Unlock()
		return rbac.MembershipDetail{}, err
	}
	e.phase = PhaseSaving
	member := e.member
	keys := e.individualLocked()
	id := e.id
	e.mu.Unlock()

	detail, err := e.cfg.Writer.UpdateIndividualGrants(ctx, e.cfg.Actor, member, keys, note)

	e.mu.Lock()
	if err != nil {
		e.phase = PhaseEditing
		e.err = err
		e.mu.Unlock()
		e.logger.Warn("permission save failed",
			slog.String("editor_id", id),
			slog.Int64("identity_id", member.IdentityID),
			slog.Int64("account_id", member.AccountID),
			slog.Any("error", err))
		return rbac.MembershipDetail{}, err
	}
	e.phase = PhaseClosed
	e.err = nil
	e.saved = &detail
	e.selected = nil
	e.roleKeys = nil
	e.mu.Unlock()

	if e.isActorMembership(member) && e.cfg.OnOwnChange != nil {
		e.cfg.OnOwnChange(member.IdentityID, member.AccountID)
	}
	return detail, nil
}

// Close abandons the edit session.
func (e *Editor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == PhaseSaving {
		return
	}
	e.phase = PhaseClosed
	e.selected = nil
	e.roleKeys = nil
}

// Phase returns the current phase.
func (e *Editor) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Err returns the last save error.
func (e *Editor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Degraded reports whether the editor opened without the member's detail.
func (e *Editor) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// Role returns the member's role, empty when degraded.
func (e *Editor) Role() rbac.Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// Selected returns the edited keys, sorted.
func (e *Editor) Selected() []rbac.Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.selected)
}

// Individual returns the keys Save would submit.
func (e *Editor) Individual() []rbac.Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.individualLocked()
}

// ProvenanceOf reports why key is selected.
func (e *Editor) ProvenanceOf(key rbac.Key) (rbac.Provenance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.selected[key]; !ok {
		return "", false
	}
	if _, ok := e.roleKeys[key]; ok {
		return rbac.ProvenanceRole, true
	}
	return rbac.ProvenanceIndividual, true
}

// Preview returns the effective set the edited grants would produce.
func (e *Editor) Preview() rbac.EffectiveSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make(map[rbac.Key]rbac.Provenance, len(e.selected))
	for k := range e.selected {
		if _, ok := e.roleKeys[k]; ok {
			keys[k] = rbac.ProvenanceRole
		} else {
			keys[k] = rbac.ProvenanceIndividual
		}
	}
	return rbac.NewEffectiveSet(e.cfg.Catalog, keys)
}

// Saved returns the detail reported by the last successful save.
func (e *Editor) Saved() (rbac.MembershipDetail, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.saved == nil {
		return rbac.MembershipDetail{}, false
	}
	return *e.saved, true
}

func (e *Editor) authorize() error {
	if e.cfg.Actor == nil {
		return ErrForbidden
	}
	if e.cfg.Gate == nil || !e.cfg.Gate.HasPermission(rbac.PermManagePermissions) {
		return ErrForbidden
	}
	return nil
}

func (e *Editor) requireEditing() error {
	if e.phase != PhaseEditing {
		return fmt.Errorf("%w: %s", ErrInvalidState, e.phase)
	}
	return nil
}

func (e *Editor) roleDefaultsLocked() map[rbac.Key]struct{} {
	out := make(map[rbac.Key]struct{}, len(e.roleKeys))
	if e.role == rbac.RoleCustom {
		return out
	}
	for k := range e.roleKeys {
		out[k] = struct{}{}
	}
	return out
}

func (e *Editor) individualLocked() []rbac.Key {
	out := make([]rbac.Key, 0, len(e.selected))
	for k := range e.selected {
		if _, ok := e.roleKeys[k]; ok {
			continue
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Editor) isActorMembership(m Member) bool {
	return e.cfg.Actor != nil && e.cfg.Actor.ID == m.IdentityID && e.cfg.ActorAccountID == m.AccountID
}

func toSet(keys []rbac.Key) map[rbac.Key]struct{} {
	out := make(map[rbac.Key]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

func sortedKeys(set map[rbac.Key]struct{}) []rbac.Key {
	out := make([]rbac.Key, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsDenied reports whether err is an authorization refusal of the flow.
func IsDenied(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrOwnerTarget)
}
