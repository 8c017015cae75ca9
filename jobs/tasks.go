package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries replays of effects a committed request left pending.
	QueueCritical = "critical"

	// TaskReceiptStock posts the stock of a single receipt.
	TaskReceiptStock = "procurement:receipt-stock"
	// TaskReceiptReplay sweeps receipts whose stock was never posted.
	TaskReceiptReplay = "procurement:receipt-replay"
	// TaskPOClosure re-evaluates whether a purchase order is fully settled.
	TaskPOClosure = "ap:po-closure"
	// TaskIdempotencyCleanup purges expired request keys.
	TaskIdempotencyCleanup = "maintenance:idempotency-cleanup"
)

// ReceiptStockPayload identifies the receipt to post.
type ReceiptStockPayload struct {
	ReceiptID int64 `json:"receipt_id"`
}

// ReceiptReplayPayload bounds a sweep of unposted receipts.
type ReceiptReplayPayload struct {
	GraceMinutes int `json:"grace_minutes"`
	Limit        int `json:"limit"`
}

// POClosurePayload identifies the order to re-evaluate.
type POClosurePayload struct {
	POID int64 `json:"po_id"`
}

// IdempotencyCleanupPayload sets the retention of request keys.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewReceiptStockTask builds a receipt stock task. The task id is derived from
// the receipt so repeated enqueues collapse while one is pending.
func NewReceiptStockTask(receiptID int64) (*asynq.Task, error) {
	body, err := json.Marshal(ReceiptStockPayload{ReceiptID: receiptID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReceiptStock, body,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(10),
		asynq.TaskID(TaskReceiptStock+":"+itoa64(receiptID)),
	), nil
}

// NewReceiptReplayTask builds the periodic sweep of unposted receipts.
func NewReceiptReplayTask(grace time.Duration, limit int) (*asynq.Task, error) {
	body, err := json.Marshal(ReceiptReplayPayload{GraceMinutes: int(grace / time.Minute), Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReceiptReplay, body, asynq.Queue(QueueDefault)), nil
}

// NewPOClosureTask builds a purchase order closure task.
func NewPOClosureTask(poID int64) (*asynq.Task, error) {
	body, err := json.Marshal(POClosurePayload{POID: poID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPOClosure, body, asynq.Queue(QueueCritical), asynq.MaxRetry(5)), nil
}

// NewIdempotencyCleanupTask builds the daily key purge.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
