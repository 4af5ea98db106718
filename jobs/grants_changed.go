package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/klinika/clinic-admin/internal/authz"
	jobmetrics "github.com/klinika/clinic-admin/internal/jobs"
	"github.com/klinika/clinic-admin/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// InvalidationPublisher broadcasts membership invalidations.
type InvalidationPublisher interface {
	Publish(ctx context.Context, inv authz.Invalidation) error
}

// GrantsChangedJob records the audit entry for a grant change and broadcasts
// the invalidation again for sessions that missed the first one.
type GrantsChangedJob struct {
	Audit     AuditRecorder
	Publisher InvalidationPublisher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskGrantsChanged tasks.
func (j *GrantsChangedJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil {
		return errors.New("grants changed: handler not configured")
	}
	var payload GrantsChangedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("grants changed: decode: %v: %w", err, asynq.SkipRetry)
	}
	if payload.IdentityID <= 0 || payload.AccountID <= 0 {
		return fmt.Errorf("grants changed: missing membership: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskGrantsChanged)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.Int64("identity_id", payload.IdentityID),
		slog.Int64("account_id", payload.AccountID))

	if j.Audit != nil {
		if err := j.Audit.Record(ctx, AuditEntry(payload)); err != nil {
			logger.Error("record grant audit", slog.Any("error", err))
			return err
		}
	}
	if j.Publisher != nil {
		inv := authz.Invalidation{IdentityID: payload.IdentityID, AccountID: payload.AccountID}
		// The audit row is already written; a retry would duplicate it.
		if err := j.Publisher.Publish(ctx, inv); err != nil {
			logger.Warn("publish invalidation", slog.Any("error", err))
		}
	}
	j.metrics().AddGrantChanges(len(payload.Added), len(payload.Removed))
	logger.Info("grant change processed",
		slog.Int("added", len(payload.Added)),
		slog.Int("removed", len(payload.Removed)))
	return nil
}

// AuditEntry converts the payload into its audit record.
func AuditEntry(p GrantsChangedPayload) shared.AuditLog {
	return shared.AuditLog{
		ActorID:   p.ActorID,
		AccountID: p.AccountID,
		Action:    "permissions.grants_replaced",
		Entity:    "membership",
		EntityID:  fmt.Sprintf("%d:%d", p.IdentityID, p.AccountID),
		Meta: map[string]any{
			"added":   p.Added,
			"removed": p.Removed,
			"note":    p.Note,
		},
		At: p.ChangedAt,
	}
}

func (j *GrantsChangedJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGrantsChanged))
	}
	return slog.Default().With(slog.String("job", TaskGrantsChanged))
}

func (j *GrantsChangedJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
