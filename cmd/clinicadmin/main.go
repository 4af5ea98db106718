package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/klinika/clinic-admin/internal/app"
	"github.com/klinika/clinic-admin/internal/auth"
	"github.com/klinika/clinic-admin/internal/authz"
	"github.com/klinika/clinic-admin/internal/directory"
	"github.com/klinika/clinic-admin/internal/observability"
	"github.com/klinika/clinic-admin/internal/permissions"
	"github.com/klinika/clinic-admin/internal/platform/cache"
	"github.com/klinika/clinic-admin/internal/platform/db"
	"github.com/klinika/clinic-admin/internal/rbac"
	"github.com/klinika/clinic-admin/internal/roles"
	"github.com/klinika/clinic-admin/internal/shared"
	"github.com/klinika/clinic-admin/internal/users"
	"github.com/klinika/clinic-admin/internal/view"
	"github.com/klinika/clinic-admin/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	dir := directory.NewRepository(dbpool, cfg.AuthzFetchTimeout)
	catalogStore := directory.NewCatalogStore(dir, redisClient, cfg.CatalogCacheTTL, logger)
	if err := catalogStore.ListenForBumps(ctx); err != nil {
		logger.Warn("listen for catalog bumps", slog.Any("error", err))
	}

	bus := authz.NewInvalidationBus(redisClient, logger)
	go func() {
		if err := bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("invalidation bus", slog.Any("error", err))
		}
	}()

	authService := auth.NewService(auth.NewRepository(dbpool))
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	permissionService := permissions.NewService(permissions.ServiceConfig{
		Store:     dir,
		Catalog:   catalogStore,
		Publisher: bus,
		Jobs:      jobClient,
		Audit:     shared.NewAuditLogger(dbpool),
		Logger:    logger,
	})
	permissionHandler := permissions.NewHandler(permissionService, logger)
	rbacMiddleware := rbac.Middleware{Logger: logger}
	membersHandler := users.NewHandler(logger, users.NewService(users.NewRepository(dbpool)), rbacMiddleware)
	rolesHandler := roles.NewHandler(logger, roles.NewService(), rbacMiddleware)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Templates:      templates,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Authz: authz.MiddlewareConfig{
			Identities: authService,
			Catalog:    catalogStore,
			Directory:  dir,
			Logger:     logger,
			Observer:   metrics,
		},
		AuthHandler:        authHandler,
		SessionHandler:     authz.NewHandler(logger, bus),
		PermissionsHandler: permissionHandler,
		MembersHandler:     membersHandler,
		RolesHandler:       rolesHandler,
		JobHandler:         jobHandler,
		RBACMiddleware:     rbacMiddleware,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
