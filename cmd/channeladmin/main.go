package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/channeladmin/channeladmin/internal/access"
	accesshttp "github.com/channeladmin/channeladmin/internal/access/http"
	"github.com/channeladmin/channeladmin/internal/app"
	"github.com/channeladmin/channeladmin/internal/observability"
	"github.com/channeladmin/channeladmin/internal/platform/cache"
	"github.com/channeladmin/channeladmin/internal/platform/db"
	"github.com/channeladmin/channeladmin/internal/rbac"
	"github.com/channeladmin/channeladmin/internal/roles"
	"github.com/channeladmin/channeladmin/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.DBOptions())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	repo := access.NewRepository(pool, cfg.StoreTimeout, logger)
	if err := repo.Migrate(ctx); err != nil {
		logger.Error("migrate schema", slog.Any("error", err))
		os.Exit(1)
	}

	catalog := roles.DefaultCatalog()
	if cfg.RoleCatalogFile != "" {
		if catalog, err = roles.LoadFile(cfg.RoleCatalogFile); err != nil {
			logger.Error("load role catalog", slog.String("path", cfg.RoleCatalogFile), slog.Any("error", err))
			os.Exit(1)
		}
	}

	var roleCache access.Cache = access.NewMemoryCache()
	if cfg.CacheBackend == app.CacheBackendRedis {
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
		roleCache = access.NewRedisCache(redisClient, logger)
	}

	metrics := observability.NewMetrics()
	service := access.NewService(repo, roleCache, catalog, access.Options{
		CacheTTL: cfg.CacheTTL,
		Logger:   logger,
		Metrics:  metrics.Access,
	})

	var adminName *string
	if name := strings.TrimSpace(cfg.AdminUsername); name != "" {
		adminName = &name
	}
	if _, err := service.SeedBootstrapAdmin(ctx, cfg.AdminID, adminName); err != nil {
		logger.Error("seed bootstrap admin", slog.Int64("admin_id", cfg.AdminID), slog.Any("error", err))
		os.Exit(1)
	}

	sweeper, err := access.NewSweeper(roleCache, cfg.CacheSweepInterval, logger)
	if err != nil {
		logger.Error("init cache sweeper", slog.Any("error", err))
		os.Exit(1)
	}
	go sweeper.Run(ctx)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	// Renames run in the worker; only a shared cache lets this process see them.
	var renames accesshttp.RenameEnqueuer
	if cfg.SharedCache() {
		renames = jobClient
	} else {
		logger.Warn("role rename endpoint disabled", slog.Any("error", app.ErrProcessLocalCache))
	}

	guards := rbac.Middleware{Authorizer: service, Logger: logger}
	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		RolesHandler:  roles.NewHandler(catalog),
		AccessHandler: accesshttp.NewHandler(logger, service, guards, renames),
		JobHandler:    jobs.NewHandler(inspector, logger),
		Metrics:       metrics,
		Ping:          pool.Ping,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("cache_backend", cfg.CacheBackend),
			slog.Int("roles", len(catalog.Roles())))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

