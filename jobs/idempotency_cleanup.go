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
)

const defaultKeyRetention = 7 * 24 * time.Hour

// KeyCleaner purges idempotency keys older than the retention.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges request keys. Inbound stock keys are kept by the store.
type IdempotencyCleanupJob struct {
	Store   KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob wires the cleanup handler.
func NewIdempotencyCleanupJob(store KeyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle deletes expired keys.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("idempotency cleanup: invalid payload: %w", asynq.SkipRetry)
		}
	}
	retention := time.Duration(payload.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = defaultKeyRetention
	}
	tracker := jobMetrics(j.Metrics).Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	deleted, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		jobLogger(j.Logger, TaskIdempotencyCleanup).Error("idempotency cleanup", slog.Any("error", err))
		return err
	}
	jobMetrics(j.Metrics).AddProcessed(TaskIdempotencyCleanup, int(deleted))
	jobLogger(j.Logger, TaskIdempotencyCleanup).Info("idempotency keys purged",
		slog.Int64("deleted", deleted),
		slog.Duration("retention", retention),
	)
	return nil
}
