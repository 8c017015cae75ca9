package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/flota-erp/flota-erp/internal/jobs"
	"github.com/flota-erp/flota-erp/internal/shared"
)

const (
	defaultReplayGrace = 10 * time.Minute
	defaultReplayLimit = 100
)

// ReceiptStockService is the procurement surface used by the receipt jobs.
type ReceiptStockService interface {
	PostReceiptStock(ctx context.Context, receiptID int64) error
	ReplayPendingReceipts(ctx context.Context, grace time.Duration, limit int) (int, error)
}

// ReceiptStockJob posts receipt stock that the request path could not apply.
type ReceiptStockJob struct {
	Service ReceiptStockService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReceiptStockJob wires the receipt stock handlers.
func NewReceiptStockJob(svc ReceiptStockService, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReceiptStockJob {
	return &ReceiptStockJob{Service: svc, Logger: logger, Metrics: metrics}
}

// Handle posts the stock of one receipt.
func (j *ReceiptStockJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("receipt stock: handler not configured")
	}
	var payload ReceiptStockPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ReceiptID <= 0 {
		return fmt.Errorf("receipt stock: invalid payload: %w", asynq.SkipRetry)
	}
	tracker := jobMetrics(j.Metrics).Track(TaskReceiptStock)
	defer func() { err = tracker.End(err) }()

	logger := jobLogger(j.Logger, TaskReceiptStock).With(slog.Int64("receipt_id", payload.ReceiptID))
	if err := j.Service.PostReceiptStock(ctx, payload.ReceiptID); err != nil {
		if shared.IsDomain(err) {
			logger.Warn("receipt stock rejected", slog.Any("error", err))
			return fmt.Errorf("receipt stock: %v: %w", err, asynq.SkipRetry)
		}
		logger.Error("receipt stock", slog.Any("error", err))
		return err
	}
	jobMetrics(j.Metrics).AddProcessed(TaskReceiptStock, 1)
	logger.Info("receipt stock posted")
	return nil
}

// HandleReplay sweeps receipts left unposted past the grace window.
func (j *ReceiptStockJob) HandleReplay(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("receipt replay: handler not configured")
	}
	var payload ReceiptReplayPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("receipt replay: invalid payload: %w", asynq.SkipRetry)
		}
	}
	grace := time.Duration(payload.GraceMinutes) * time.Minute
	if grace <= 0 {
		grace = defaultReplayGrace
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = defaultReplayLimit
	}
	tracker := jobMetrics(j.Metrics).Track(TaskReceiptReplay)
	defer func() { err = tracker.End(err) }()

	posted, err := j.Service.ReplayPendingReceipts(ctx, grace, limit)
	if err != nil {
		jobLogger(j.Logger, TaskReceiptReplay).Error("receipt replay", slog.Any("error", err))
		return err
	}
	jobMetrics(j.Metrics).AddProcessed(TaskReceiptReplay, posted)
	jobLogger(j.Logger, TaskReceiptReplay).Info("receipt replay completed", slog.Int("posted", posted))
	return nil
}
