package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	migrations "github.com/meridian-fin/meridian/db"
	"github.com/meridian-fin/meridian/internal/accounts"
	"github.com/meridian-fin/meridian/internal/app"
	"github.com/meridian-fin/meridian/internal/audit"
	"github.com/meridian-fin/meridian/internal/auth"
	"github.com/meridian-fin/meridian/internal/authz"
	"github.com/meridian-fin/meridian/internal/consolidation"
	"github.com/meridian-fin/meridian/internal/fiscal"
	"github.com/meridian-fin/meridian/internal/fx"
	"github.com/meridian-fin/meridian/internal/intercompany"
	"github.com/meridian-fin/meridian/internal/ledger"
	"github.com/meridian-fin/meridian/internal/observability"
	"github.com/meridian-fin/meridian/internal/org"
	"github.com/meridian-fin/meridian/internal/platform/cache"
	"github.com/meridian-fin/meridian/internal/platform/db"
	"github.com/meridian-fin/meridian/internal/reports"
	"github.com/meridian-fin/meridian/internal/shared"
	"github.com/meridian-fin/meridian/internal/users"
	"github.com/meridian-fin/meridian/internal/yearend"
	"github.com/meridian-fin/meridian/jobs"
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

	if err := db.Migrate(migrations.Migrations, cfg.PGDSN); err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

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
	metrics := observability.NewMetrics()

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(logger, usersRepo, auditLogger, []byte(cfg.TokenSecret))
	usersHandler := users.NewHandler(usersService)

	sessionStore := auth.NewSessionStore(redisClient)
	authService := auth.NewService(logger, usersRepo, sessionStore, auditLogger, []byte(cfg.SessionSecret)).
		WithTTL(cfg.SessionTTL).
		WithProviders(cfg.OAuthProviders(), nil)
	authHandler := auth.NewHandler(authService)

	authzRepo := authz.NewRepository(pool)
	authzService := authz.NewService(logger, authzRepo)
	if err := authzService.Reload(ctx); err != nil {
		logger.Error("load authorization policies", slog.Any("error", err))
		os.Exit(1)
	}
	go authzService.RefreshLoop(ctx, 30*time.Second)
	authzHandler := authz.NewHandler(logger, authzService)

	orgRepo := org.NewRepository(pool)
	orgService := org.NewService(logger, orgRepo, auditLogger)
	orgHandler := org.NewHandler(logger, orgService)

	accountsRepo := accounts.NewRepository(pool)
	accountsService := accounts.NewService(logger, accountsRepo, auditLogger)
	accountsHandler := accounts.NewHandler(logger, accountsService)

	fiscalRepo := fiscal.NewRepository(pool)
	fiscalService := fiscal.NewService(logger, fiscalRepo, auditLogger)
	fiscalHandler := fiscal.NewHandler(logger, fiscalService)

	fxRepo := fx.NewRepository(pool)
	fxCache := fx.NewCache(redisClient, cfg.RateCacheTTL)
	fxService := fx.NewService(logger, fxRepo, fxCache, auditLogger)
	fxHandler := fx.NewHandler(logger, fxService)

	ledgerRepo := ledger.NewRepository(pool, auditLogger)
	ledgerService := ledger.NewService(logger, ledgerRepo, fxService, auditLogger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, authzService)

	yearendRepo := yearend.NewRepository(pool, ledgerRepo, auditLogger)
	yearendService := yearend.NewService(logger, yearendRepo, fiscalRepo, ledgerRepo)
	yearendHandler := yearend.NewHandler(yearendService, authzService)

	icRepo := intercompany.NewRepository(pool)
	icService := intercompany.NewService(logger, icRepo, auditLogger)
	icHandler := intercompany.NewHandler(icService)

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

	consolidationRepo := consolidation.NewRepository(pool)
	consolidationService := consolidation.NewService(logger, consolidationRepo, orgService, fiscalRepo, queueClient, auditLogger)
	consolidationHandler := consolidation.NewHandler(consolidationService, authzService)

	reportsService := reports.NewService(logger, orgService, fiscalRepo, ledgerRepo, consolidationService)
	reportsHandler := reports.NewHandler(reportsService, logger)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(logger, auditRepo)
	auditHandler := audit.NewHandler(auditService)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Metrics: metrics,
		Auth:    authService,

		AuthHandler:          authHandler,
		UsersHandler:         usersHandler,
		OrgHandler:           orgHandler,
		AccountsHandler:      accountsHandler,
		FiscalHandler:        fiscalHandler,
		FXHandler:            fxHandler,
		LedgerHandler:        ledgerHandler,
		YearEndHandler:       yearendHandler,
		IntercompanyHandler:  icHandler,
		AuthzHandler:         authzHandler,
		ConsolidationHandler: consolidationHandler,
		ReportsHandler:       reportsHandler,
		AuditHandler:         auditHandler,
		JobsHandler:          jobsHandler,
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
