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

	"github.com/channeladmin/channeladmin/internal/access"
	"github.com/channeladmin/channeladmin/internal/app"
	"github.com/channeladmin/channeladmin/internal/observability"
	"github.com/channeladmin/channeladmin/internal/platform/cache"
	"github.com/channeladmin/channeladmin/internal/platform/db"
	"github.com/channeladmin/channeladmin/internal/roles"
	"github.com/channeladmin/channeladmin/jobs"
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

	// Renames invalidate the cache they ran against, so it has to be the one
	// the API reads.
	if err := cfg.RequireSharedCache(); err != nil {
		logger.Error("refusing to start worker", slog.String("cache_backend", cfg.CacheBackend), slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.DBOptions())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	catalog := roles.DefaultCatalog()
	if cfg.RoleCatalogFile != "" {
		if catalog, err = roles.LoadFile(cfg.RoleCatalogFile); err != nil {
			logger.Error("load role catalog", slog.String("path", cfg.RoleCatalogFile), slog.Any("error", err))
			os.Exit(1)
		}
	}

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
	roleCache := access.NewRedisCache(redisClient, logger)

	service := access.NewService(access.NewRepository(pool, cfg.StoreTimeout, logger), roleCache, catalog, access.Options{
		CacheTTL: cfg.CacheTTL,
		Logger:   logger,
	})
	metrics := observability.NewWorkerMetrics()
	renames := jobs.NewRenameHandler(service, metrics.Jobs, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers:  []jobs.TaskHandler{renames.TaskHandler()},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		go serveMetrics(ctx, cfg.WorkerMetricsAddr, metrics.Handler(), logger)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}()

	logger.Info("worker metrics listening", slog.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server", slog.Any("error", err))
	}
}
