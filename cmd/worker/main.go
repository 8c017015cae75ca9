package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/flota-erp/flota-erp/internal/ap"
	"github.com/flota-erp/flota-erp/internal/app"
	"github.com/flota-erp/flota-erp/internal/inventory"
	jobmetrics "github.com/flota-erp/flota-erp/internal/jobs"
	"github.com/flota-erp/flota-erp/internal/platform/cache"
	"github.com/flota-erp/flota-erp/internal/platform/db"
	"github.com/flota-erp/flota-erp/internal/procurement"
	"github.com/flota-erp/flota-erp/internal/shared"
	"github.com/flota-erp/flota-erp/jobs"
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

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger, logger)
	procurementService := procurement.NewService(procurement.NewRepository(pool), inventoryService,
		shared.NewApprovalRecorder(pool, logger), auditLogger, idempotencyStore, logger)
	payablesService := ap.NewService(ap.NewRepository(pool), procurementService, auditLogger, logger)
	payablesService.SetAgingCache(cache.NewVersioned(redisClient, "ap:aging", cfg.AgingCacheTTL))

	metrics := jobmetrics.NewMetrics(nil)
	receiptJob := jobs.NewReceiptStockJob(procurementService, logger, metrics)
	closureJob := jobs.NewPOClosureJob(payablesService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger, metrics)

	replayTask, err := jobs.NewReceiptReplayTask(cfg.ReceiptReplayGrace, 100)
	if err != nil {
		logger.Error("build receipt replay task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReceiptStock, Handler: receiptJob.Handle},
			{Type: jobs.TaskReceiptReplay, Handler: receiptJob.HandleReplay},
			{Type: jobs.TaskPOClosure, Handler: closureJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: replayTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
