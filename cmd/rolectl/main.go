package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/channeladmin/channeladmin/cmd/rolectl/cli"
	"github.com/channeladmin/channeladmin/internal/access"
	"github.com/channeladmin/channeladmin/internal/app"
	"github.com/channeladmin/channeladmin/internal/platform/cache"
	"github.com/channeladmin/channeladmin/internal/platform/db"
	"github.com/channeladmin/channeladmin/internal/roles"
	"github.com/channeladmin/channeladmin/jobs"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return cli.ExitFailed
	}
	logger := app.NewLogger(cfg)

	dbOpts := cfg.DBOptions()
	dbOpts.MaxConns = 2
	pool, err := db.New(ctx, cfg.PGDSN, dbOpts)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return cli.ExitFailed
	}
	defer pool.Close()

	catalog := roles.DefaultCatalog()
	if cfg.RoleCatalogFile != "" {
		if catalog, err = roles.LoadFile(cfg.RoleCatalogFile); err != nil {
			logger.Error("load role catalog", slog.String("path", cfg.RoleCatalogFile), slog.Any("error", err))
			return cli.ExitFailed
		}
	}

	// Writes must reach the shared cache so the API stops serving stale
	// roles; against a process-local cache the CLI is read-only.
	var roleCache access.Cache = access.NewMemoryCache()
	if cfg.CacheBackend == app.CacheBackendRedis {
		redisClient, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			return cli.ExitFailed
		}
		defer func() { _ = redisClient.Close() }()
		roleCache = access.NewRedisCache(redisClient, logger)
	}

	service := access.NewService(access.NewRepository(pool, cfg.StoreTimeout, logger), roleCache, catalog, access.Options{
		CacheTTL: cfg.CacheTTL,
		Logger:   logger,
	})

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() { _ = jobClient.Close() }()

	c, err := cli.New(cli.Options{
		Service:        service,
		Renames:        jobClient,
		DefaultActor:   cfg.AdminID,
		WritesDisabled: cfg.RequireSharedCache(),
	})
	if err != nil {
		logger.Error("init cli", slog.Any("error", err))
		return cli.ExitFailed
	}
	return c.Run(ctx, os.Args[1:])
}
