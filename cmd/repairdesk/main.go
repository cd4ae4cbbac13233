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
	"github.com/repairdesk/repairdesk/internal/audit"
	"github.com/repairdesk/repairdesk/internal/billing"
	"github.com/repairdesk/repairdesk/internal/documents"
	"github.com/repairdesk/repairdesk/internal/drafts"
	"github.com/repairdesk/repairdesk/internal/inventory"
	jobmetrics "github.com/repairdesk/repairdesk/internal/jobs"
	"github.com/repairdesk/repairdesk/internal/observability"
	"github.com/repairdesk/repairdesk/internal/platform/cache"
	"github.com/repairdesk/repairdesk/internal/platform/db"
	"github.com/repairdesk/repairdesk/internal/platform/storage"
	"github.com/repairdesk/repairdesk/internal/procurement"
	"github.com/repairdesk/repairdesk/internal/repair"
	"github.com/repairdesk/repairdesk/internal/shared"
	"github.com/repairdesk/repairdesk/internal/users"
	"github.com/repairdesk/repairdesk/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	taskMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	taskClient := jobs.NewClient(redisOpts, jobs.WithMaxRetry(cfg.WorkerMaxRetry), jobs.WithMetrics(taskMetrics))
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Warn("task client close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	draftStore := drafts.NewStore(redisClient, cfg.DraftTTL)

	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), auditLogger, logger, inventory.ServiceConfig{
		LowStockThreshold: cfg.LowStockThreshold,
		LowStockLabels:    cfg.LowStockLabels,
	})
	repairService := repair.NewService(repair.NewRepository(dbpool), auditLogger, logger, cfg.JobRefPrefix)

	guard := billing.NewDiscountGuard(cfg.DiscountWords, billing.NewPINVerifier(cfg.DiscountPIN, cfg.DiscountPINHash))
	reconciler := billing.NewReconciler(inventoryService, taskClient, guard, logger)
	billingService := billing.NewService(
		billing.Config{BillNumberPrefix: cfg.BillNumberPrefix},
		draftStore,
		billing.NewRepository(dbpool),
		reconciler,
		repairService,
		auditLogger,
		logger,
	)

	procurementService := procurement.NewService(
		procurement.NewRepository(dbpool),
		draftStore,
		inventoryService,
		taskClient,
		auditLogger,
		logger,
	)
	usersService := users.NewService(users.NewRepository(dbpool))

	pdfClient := documents.NewClient(cfg.GotenbergURL, cfg.DocumentsTimeout)
	renderer, err := documents.NewRenderer(pdfClient, cfg.ShopName)
	if err != nil {
		logger.Error("parse document templates", slog.Any("error", err))
		os.Exit(1)
	}
	var archiver documents.Archiver
	if cfg.ArchiveEnabled() {
		archive, err := storage.NewS3Archive(ctx, storage.S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		}, storage.WithLogger(logger))
		if err != nil {
			logger.Error("init invoice archive", slog.Any("error", err))
			os.Exit(1)
		}
		archiver = archive
	}
	invoices := documents.NewArchivingRenderer(renderer, archiver, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		InventoryHandler:   inventory.NewHandler(logger, inventoryService),
		BillingHandler:     billing.NewHandler(logger, billingService, invoices, documents.Workbooks{}),
		RepairHandler:      repair.NewHandler(logger, repairService, renderer),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		UsersHandler:       users.NewHandler(logger, usersService),
		AuditHandler:       audit.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool))),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Checks: map[string]app.HealthCheck{
			"postgres":  dbpool.Ping,
			"redis":     func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
			"gotenberg": pdfClient.Ping,
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func shutdownTimeout(cfg *app.Config) time.Duration {
	if cfg.AppShutdownTimeout > 0 {
		return cfg.AppShutdownTimeout
	}
	return 10 * time.Second
}
