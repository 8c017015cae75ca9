package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/flota-erp/flota-erp/cmd/flota/cli"
	"github.com/flota-erp/flota-erp/internal/ap"
	"github.com/flota-erp/flota-erp/internal/app"
	"github.com/flota-erp/flota-erp/internal/inventory"
	"github.com/flota-erp/flota-erp/internal/observability"
	"github.com/flota-erp/flota-erp/internal/platform/cache"
	"github.com/flota-erp/flota-erp/internal/platform/db"
	"github.com/flota-erp/flota-erp/internal/procurement"
	"github.com/flota-erp/flota-erp/internal/shared"
	"github.com/flota-erp/flota-erp/jobs"
	"github.com/flota-erp/flota-erp/migrations"
)

const usage = `uso: flota [serve | migrate | jobs <trigger NOMBRE [ID] | stats | archived COLA>]`

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

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	case "jobs":
		err = runJobs(ctx, cfg, args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	inventoryService, procurementService, payablesService := buildServices(dbpool, redisClient, cfg, logger, metrics)
	procurementService.SetReceiptStockEnqueuer(jobClient)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		InventoryHandler:   inventory.NewHandler(logger, inventoryService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		PayablesHandler:    ap.NewHandler(logger, payablesService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Database:           dbpool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildServices(dbpool *pgxpool.Pool, redisClient *redis.Client, cfg *app.Config, logger *slog.Logger, metrics *observability.Metrics) (*inventory.Service, *procurement.Service, *ap.Service) {
	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), auditLogger, logger)
	inventoryService.SetMetrics(metrics)

	procurementService := procurement.NewService(procurement.NewRepository(dbpool), inventoryService, approvalRecorder, auditLogger, idempotencyStore, logger)
	procurementService.SetMetrics(metrics)

	payablesService := ap.NewService(ap.NewRepository(dbpool), procurementService, auditLogger, logger)
	payablesService.SetMetrics(metrics)
	payablesService.SetPaymentDueDays(cfg.PaymentDueDays)
	payablesService.SetAgingCache(cache.NewVersioned(redisClient, "ap:aging", cfg.AgingCacheTTL))

	return inventoryService, procurementService, payablesService
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, 2)
	if err != nil {
		return err
	}
	defer dbpool.Close()
	applied, err := db.Migrate(ctx, dbpool, migrations.Files)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", slog.Any("files", applied))
	return nil
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer jobsCLI.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New(usage)
		}
		arg := ""
		if len(args) > 2 {
			arg = args[2]
		}
		info, err := jobsCLI.Trigger(ctx, args[1], arg)
		if err != nil {
			return err
		}
		fmt.Printf("encolado %s en %s (id %s)\n", info.Type, info.Queue, info.ID)
	case "stats":
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Printf("%-9s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
	case "archived":
		queue := jobs.QueueCritical
		if len(args) > 1 {
			queue = args[1]
		}
		tasks, err := jobsCLI.ListArchived(ctx, queue, 20)
		if err != nil {
			return err
		}
		for _, info := range tasks {
			fmt.Println(cli.FormatTask(info))
		}
	default:
		return errors.New(usage)
	}
	return nil
}
