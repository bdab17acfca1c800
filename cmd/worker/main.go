package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-fin/meridian/internal/app"
	"github.com/meridian-fin/meridian/internal/consolidation"
	"github.com/meridian-fin/meridian/internal/fiscal"
	"github.com/meridian-fin/meridian/internal/fx"
	"github.com/meridian-fin/meridian/internal/intercompany"
	jobmetrics "github.com/meridian-fin/meridian/internal/jobs"
	"github.com/meridian-fin/meridian/internal/ledger"
	"github.com/meridian-fin/meridian/internal/org"
	"github.com/meridian-fin/meridian/internal/platform/cache"
	"github.com/meridian-fin/meridian/internal/platform/db"
	"github.com/meridian-fin/meridian/internal/shared"
	"github.com/meridian-fin/meridian/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)

	orgService := org.NewService(logger, org.NewRepository(pool), auditLogger)
	fiscalRepo := fiscal.NewRepository(pool)
	fxService := fx.NewService(logger, fx.NewRepository(pool), fx.NewCache(redisClient, cfg.RateCacheTTL), auditLogger)
	ledgerRepo := ledger.NewRepository(pool, auditLogger)
	icRepo := intercompany.NewRepository(pool)

	consolidationRepo := consolidation.NewRepository(pool)
	engine := consolidation.NewEngine(logger, consolidationRepo, orgService, fiscalRepo, ledgerRepo, fxService, icRepo)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	queueClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	processor := jobs.NewRunProcessor(logger, engine, consolidationRepo, queueClient, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers:  processor.Handlers(),
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: jobs.NewConsolidationRecoverTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
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
