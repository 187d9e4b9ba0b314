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

	"github.com/saldo-erp/saldo/internal/advances"
	"github.com/saldo-erp/saldo/internal/app"
	"github.com/saldo-erp/saldo/internal/audit"
	"github.com/saldo-erp/saldo/internal/auth"
	"github.com/saldo-erp/saldo/internal/budget"
	"github.com/saldo-erp/saldo/internal/bulk"
	"github.com/saldo-erp/saldo/internal/invoices"
	jobmetrics "github.com/saldo-erp/saldo/internal/jobs"
	"github.com/saldo-erp/saldo/internal/ledger"
	"github.com/saldo-erp/saldo/internal/observability"
	"github.com/saldo-erp/saldo/internal/platform/cache"
	"github.com/saldo-erp/saldo/internal/platform/db"
	"github.com/saldo-erp/saldo/internal/rbac"
	"github.com/saldo-erp/saldo/internal/shared"
	"github.com/saldo-erp/saldo/jobs"
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

	var statsCache *cache.Versioned
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, stats cache disabled", slog.Any("error", err))
	} else {
		statsCache = cache.NewVersioned(redisClient, "saldo:stats", cfg.StatsCacheTTL)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

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
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	ledgerMetrics := ledger.NewMetrics(metrics.Registerer())

	publisher := jobs.NewPublisher(jobClient, logger)
	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	passwords := auth.NewService(auth.NewRepository(dbpool))
	rbacMiddleware := rbac.Middleware{Logger: logger}

	ledgerService := ledger.NewService(ledger.NewRepository(dbpool), statsCache, auditLogger, publisher, ledgerMetrics, logger)
	ledgerService.WithMaxAttempts(cfg.LedgerMaxAttempts)

	invoiceService := invoices.NewService(invoices.NewRepository(dbpool), ledgerService, auditLogger, publisher, logger)
	invoiceService.WithLeaseTTL(cfg.ReviewLeaseTTL)

	advanceService := advances.NewService(advances.NewRepository(dbpool), ledgerService, passwords, auditLogger, publisher, logger)
	budgetService := budget.NewService(budget.NewRepository(dbpool, approvalRecorder), auditLogger, publisher, logger)
	budgetService.WithMaxAttempts(cfg.LedgerMaxAttempts)

	bulkService := bulk.NewService(bulk.NewRepository(dbpool), passwords, auditLogger, jobMetrics, logger,
		bulk.Invoices{Service: invoiceService},
		bulk.BudgetRequests{Service: budgetService},
	)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		RBACMiddleware: rbacMiddleware,
		Metrics:        metrics,
		Health: func(r *http.Request) error {
			return dbpool.Ping(r.Context())
		},
		LedgerHandler:  ledger.NewHandler(logger, ledgerService, rbacMiddleware),
		BudgetHandler:  budget.NewHandler(logger, budgetService, rbacMiddleware),
		AdvanceHandler: advances.NewHandler(logger, advanceService, rbacMiddleware),
		InvoiceHandler: invoices.NewHandler(logger, invoiceService, rbacMiddleware),
		BulkHandler:    bulk.NewHandler(logger, bulkService, rbacMiddleware),
		AuditHandler:   audit.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), rbacMiddleware),
		JobsHandler:    jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
}
