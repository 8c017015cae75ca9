package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/flota-erp/flota-erp/internal/jobs"
	"github.com/flota-erp/flota-erp/internal/shared"
)

// POClosureService re-evaluates purchase order closure against its invoices.
type POClosureService interface {
	ReevaluatePOClosure(ctx context.Context, poID int64) (bool, error)
}

// POClosureJob repairs orders whose invoices were all settled but remained open.
type POClosureJob struct {
	Service POClosureService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPOClosureJob wires the closure handler.
func NewPOClosureJob(svc POClosureService, logger *slog.Logger, metrics *jobmetrics.Metrics) *POClosureJob {
	return &POClosureJob{Service: svc, Logger: logger, Metrics: metrics}
}

// Handle re-evaluates one purchase order.
func (j *POClosureJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("po closure: handler not configured")
	}
	var payload POClosurePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.POID <= 0 {
		return fmt.Errorf("po closure: invalid payload: %w", asynq.SkipRetry)
	}
	tracker := jobMetrics(j.Metrics).Track(TaskPOClosure)
	defer func() { err = tracker.End(err) }()

	logger := jobLogger(j.Logger, TaskPOClosure).With(slog.Int64("po_id", payload.POID))
	closed, err := j.Service.ReevaluatePOClosure(ctx, payload.POID)
	if err != nil {
		if shared.IsDomain(err) {
			logger.Warn("po closure rejected", slog.Any("error", err))
			return fmt.Errorf("po closure: %v: %w", err, asynq.SkipRetry)
		}
		logger.Error("po closure", slog.Any("error", err))
		return err
	}
	if closed {
		jobMetrics(j.Metrics).AddProcessed(TaskPOClosure, 1)
	}
	logger.Info("po closure evaluated", slog.Bool("closed", closed))
	return nil
}
