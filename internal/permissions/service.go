package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/klinika/clinic-admin/internal/authz"
	"github.com/klinika/clinic-admin/internal/directory"
	"github.com/klinika/clinic-admin/internal/rbac"
	"github.com/klinika/clinic-admin/internal/shared"
	"github.com/klinika/clinic-admin/jobs"
)

// Store is the authoritative membership store.
type Store interface {
	GetMembershipDetail(ctx context.Context, identityID, accountID int64) (rbac.MembershipDetail, error)
	ReplaceIndividualGrants(ctx context.Context, actorID, identityID, accountID int64, keys []rbac.Key) (directory.GrantChange, error)
}

// CatalogProvider loads the permission catalog.
type CatalogProvider interface {
	Load(ctx context.Context) (*rbac.Catalog, error)
}

// Publisher broadcasts membership invalidations.
type Publisher interface {
	Publish(ctx context.Context, inv authz.Invalidation) error
}

// Enqueuer schedules the grant change follow-up.
type Enqueuer interface {
	EnqueueGrantsChanged(ctx context.Context, payload jobs.GrantsChangedPayload) (*asynq.TaskInfo, error)
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig aggregates Service dependencies. Publisher, Jobs and Audit are
// optional.
type ServiceConfig struct {
	Store     Store
	Catalog   CatalogProvider
	Publisher Publisher
	Jobs      Enqueuer
	Audit     AuditRecorder
	Logger    *slog.Logger
}

// Service writes individual grants and announces the change.
type Service struct {
	store     Store
	catalog   CatalogProvider
	publisher Publisher
	jobs      Enqueuer
	audit     AuditRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     cfg.Store,
		catalog:   cfg.Catalog,
		publisher: cfg.Publisher,
		jobs:      cfg.Jobs,
		audit:     cfg.Audit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Detail loads the membership detail of a member.
func (s *Service) Detail(ctx context.Context, identityID, accountID int64) (rbac.MembershipDetail, error) {
	detail, err := s.store.GetMembershipDetail(ctx, identityID, accountID)
	if err != nil {
		return rbac.MembershipDetail{}, translate(err)
	}
	return detail, nil
}

// GetMembershipDetail satisfies DetailSource.
func (s *Service) GetMembershipDetail(ctx context.Context, identityID, accountID int64) (rbac.MembershipDetail, error) {
	return s.Detail(ctx, identityID, accountID)
}

// UpdateIndividualGrants validates keys, replaces the member's grants and
// returns the updated detail.
func (s *Service) UpdateIndividualGrants(ctx context.Context, actor *rbac.Identity, member Member, keys []rbac.Key, note string) (rbac.MembershipDetail, error) {
	if actor == nil {
		return rbac.MembershipDetail{}, ErrForbidden
	}
	if member.IsOwner {
		return rbac.MembershipDetail{}, ErrOwnerTarget
	}
	catalog, err := s.catalog.Load(ctx)
	if err != nil {
		return rbac.MembershipDetail{}, err
	}
	raw := make([]string, len(keys))
	for i, k := range keys {
		raw[i] = string(k)
	}
	validated, err := catalog.ParseAll(raw)
	if err != nil {
		return rbac.MembershipDetail{}, err
	}

	change, err := s.store.ReplaceIndividualGrants(ctx, actor.ID, member.IdentityID, member.AccountID, validated)
	if err != nil {
		return rbac.MembershipDetail{}, translate(err)
	}
	s.logger.Info("individual grants replaced",
		slog.Int64("actor_id", actor.ID),
		slog.Int64("identity_id", member.IdentityID),
		slog.Int64("account_id", member.AccountID),
		slog.Int("added", len(change.Added)),
		slog.Int("removed", len(change.Removed)))

	s.announce(ctx, actor, member, change, note)

	detail, err := s.store.GetMembershipDetail(ctx, member.IdentityID, member.AccountID)
	if err != nil {
		// the write went through; report what was submitted
		s.logger.Warn("reload membership after save", slog.Any("error", err))
		return rbac.MembershipDetail{
			Membership: rbac.Membership{
				IdentityID:       member.IdentityID,
				AccountID:        member.AccountID,
				IndividualGrants: validated,
			},
			IndividualPermissions: validated,
		}, nil
	}
	return detail, nil
}

func (s *Service) announce(ctx context.Context, actor *rbac.Identity, member Member, change directory.GrantChange, note string) {
	inv := authz.Invalidation{IdentityID: member.IdentityID, AccountID: member.AccountID}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, inv); err != nil {
			s.logger.Warn("publish invalidation", slog.Any("error", err))
		}
	}

	payload := jobs.GrantsChangedPayload{
		ActorID:    actor.ID,
		IdentityID: member.IdentityID,
		AccountID:  member.AccountID,
		Added:      keyStrings(change.Added),
		Removed:    keyStrings(change.Removed),
		Note:       note,
		ChangedAt:  s.now(),
	}
	if s.jobs != nil {
		_, err := s.jobs.EnqueueGrantsChanged(ctx, payload)
		if err == nil {
			return
		}
		s.logger.Warn("enqueue grants changed", slog.Any("error", err))
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, jobs.AuditEntry(payload)); err != nil {
			s.logger.Error("record grant audit", slog.Any("error", err))
		}
	}
}

func translate(err error) error {
	switch {
	case errors.Is(err, directory.ErrConflict):
		return fmt.Errorf("%w: %w", ErrSaveConflict, err)
	case errors.Is(err, directory.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrMemberNotFound, err)
	default:
		return err
	}
}

func keyStrings(keys []rbac.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
