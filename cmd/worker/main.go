package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/klinika/clinic-admin/internal/app"
	"github.com/klinika/clinic-admin/internal/authz"
	"github.com/klinika/clinic-admin/internal/directory"
	jobmetrics "github.com/klinika/clinic-admin/internal/jobs"
	"github.com/klinika/clinic-admin/internal/platform/cache"
	"github.com/klinika/clinic-admin/internal/platform/db"
	"github.com/klinika/clinic-admin/internal/shared"
	"github.com/klinika/clinic-admin/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	dir := directory.NewRepository(pool, cfg.AuthzFetchTimeout)
	catalogStore := directory.NewCatalogStore(dir, redisClient, cfg.CatalogCacheTTL, logger)

	grantsJob := &jobs.GrantsChangedJob{
		Audit:     shared.NewAuditLogger(pool),
		Publisher: authz.NewInvalidationBus(redisClient, logger),
		Logger:    logger,
		Metrics:   metrics,
	}
	warmupJob := &jobs.CatalogWarmupJob{Catalog: catalogStore, Logger: logger, Metrics: metrics}

	warmupTask, err := jobs.NewCatalogWarmupTask(jobs.CatalogWarmupPayload{RequestedBy: "cron"})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Concurrency: cfg.JobsConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGrantsChanged, Handler: grantsJob.Handle},
			{Type: jobs.TaskCatalogWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.CatalogWarmCron, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
