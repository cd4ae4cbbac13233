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

	"github.com/repairdesk/repairdesk/internal/app"
	"github.com/repairdesk/repairdesk/internal/inventory"
	jobmetrics "github.com/repairdesk/repairdesk/internal/jobs"
	"github.com/repairdesk/repairdesk/internal/observability"
	"github.com/repairdesk/repairdesk/internal/platform/db"
	"github.com/repairdesk/repairdesk/internal/procurement"
	"github.com/repairdesk/repairdesk/internal/repair"
	"github.com/repairdesk/repairdesk/internal/shared"
	"github.com/repairdesk/repairdesk/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	taskMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	auditLogger := shared.NewAuditLogger(pool)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger, logger, inventory.ServiceConfig{
		LowStockThreshold: cfg.LowStockThreshold,
		LowStockLabels:    cfg.LowStockLabels,
	})
	repairService := repair.NewService(repair.NewRepository(pool), auditLogger, logger, cfg.JobRefPrefix)
	procurementRepo := procurement.NewRepository(pool)

	compensation := &jobs.CompensationJobs{
		Stock:   inventoryService,
		Jobs:    repairService,
		Logger:  logger,
		Metrics: taskMetrics,
	}
	reindex := &jobs.ProcurementReindexJob{Totals: procurementRepo, Logger: logger, Metrics: taskMetrics}
	lowStock := &jobs.LowStockScanJob{Stock: inventoryService, Logger: logger, Metrics: taskMetrics}
	tokenPurge := &jobs.TokenPurgeJob{Tokens: shared.NewIdempotencyKeys(pool), Logger: logger, Metrics: taskMetrics}

	scanTask, err := jobs.NewLowStockScanTask(time.Now().UTC())
	if err != nil {
		logger.Error("build low stock task", slog.Any("error", err))
		os.Exit(1)
	}
	purgeTask, err := jobs.NewTokenPurgeTask(cfg.TokenRetention)
	if err != nil {
		logger.Error("build token purge task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStockRestore, Handler: compensation.HandleStockRestore},
			{Type: jobs.TaskJobCloseByBill, Handler: compensation.HandleJobClose},
			{Type: jobs.TaskProcurementReindex, Handler: reindex.Handle},
			{Type: jobs.TaskLowStockScan, Handler: lowStock.Handle},
			{Type: jobs.TaskTokenPurge, Handler: tokenPurge.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.LowStockScanCron, Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: cfg.TokenPurgeCron, Task: purgeTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
