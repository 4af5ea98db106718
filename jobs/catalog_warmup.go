package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/klinika/clinic-admin/internal/jobs"
	"github.com/klinika/clinic-admin/internal/rbac"
)

// CatalogWarmer refreshes the cached catalog.
type CatalogWarmer interface {
	Warm(ctx context.Context) (*rbac.Catalog, error)
}

// CatalogWarmupJob invalidates and reloads the permission catalog cache.
type CatalogWarmupJob struct {
	Catalog CatalogWarmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
}

// Handle processes TaskCatalogWarmup tasks.
func (j *CatalogWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Catalog == nil {
		return errors.New("catalog warmup: handler not configured")
	}
	var payload CatalogWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("catalog warmup: decode: %v: %w", err, asynq.SkipRetry)
		}
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskCatalogWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskCatalogWarmup))

	start := time.Now()
	catalog, err := j.Catalog.Warm(ctx)
	if err != nil {
		logger.Error("catalog warmup", slog.Any("error", err))
		return err
	}
	logger.Info("catalog warmed",
		slog.Int("permissions", catalog.Len()),
		slog.String("requested_by", payload.RequestedBy),
		slog.Duration("duration", time.Since(start)))
	return nil
}
