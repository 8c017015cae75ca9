package procurement

import "context"

// ReceiptStockEnqueuer schedules a background replay of the stock posting of a receipt.
type ReceiptStockEnqueuer interface {
	EnqueueReceiptStock(ctx context.Context, receiptID int64) error
}

// MetricsPort receives procurement counters.
type MetricsPort interface {
	ObserveReceipt(stockDeferred bool)
}
