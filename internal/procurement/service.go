package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/flota-erp/flota-erp/internal/inventory"
	"github.com/flota-erp/flota-erp/internal/platform/money"
	"github.com/flota-erp/flota-erp/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	ListPOs(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error)
	SupplierExists(ctx context.Context, id int64) (bool, error)
	DepositExists(ctx context.Context, id int64) (bool, error)
	GetReceipt(ctx context.Context, id int64) (Receipt, error)
	MarkReceiptPosted(ctx context.Context, id int64) error
	ListUnpostedReceipts(ctx context.Context, olderThan time.Time, limit int) ([]int64, error)
}

// InventoryPort exposes required inventory integration.
type InventoryPort interface {
	PostInbound(ctx context.Context, input inventory.InboundInput) (inventory.StockCardEntry, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records approval history of orders.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// IdempotencyPort claims request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service orchestrates purchase order flows.
type Service struct {
	repo        RepositoryPort
	inventory   InventoryPort
	approvals   ApprovalPort
	audit       AuditPort
	idempotency IdempotencyPort
	enqueuer    ReceiptStockEnqueuer
	metrics     MetricsPort
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, inventory InventoryPort, approvals ApprovalPort, audit AuditPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		inventory:   inventory,
		approvals:   approvals,
		audit:       audit,
		idempotency: idem,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetReceiptStockEnqueuer injects the background replay scheduler.
func (s *Service) SetReceiptStockEnqueuer(e ReceiptStockEnqueuer) {
	s.enqueuer = e
}

// SetMetrics injects the metrics sink.
func (s *Service) SetMetrics(m MetricsPort) {
	s.metrics = m
}

// CreatePurchaseOrder validates lines, computes totals and assigns the next
// OC-<year>-<seq> number in the same transaction.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, ErrNoLines
	}
	for _, l := range input.Lines {
		if err := validateLine(l); err != nil {
			return PurchaseOrder{}, err
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = CurrencyARS
	}
	if currency != CurrencyARS && currency != CurrencyUSD {
		return PurchaseOrder{}, ErrInvalidCurrency
	}
	rate := input.ExchangeRate
	if rate == 0 {
		rate = 1
	}
	if rate < 0 {
		return PurchaseOrder{}, ErrInvalidRate
	}
	ok, err := s.repo.SupplierExists(ctx, input.SupplierID)
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("procurement: supplier lookup: %w", err)
	}
	if !ok {
		return PurchaseOrder{}, ErrSupplierNotFound
	}
	if err := s.checkDeposits(ctx, input); err != nil {
		return PurchaseOrder{}, err
	}

	orderDate := input.OrderDate
	if orderDate.IsZero() {
		orderDate = s.now()
	}
	totals, lines := buildLines(input)
	now := s.now()
	po := PurchaseOrder{
		SupplierID:        input.SupplierID,
		OrderDate:         orderDate,
		ExpectedDate:      input.ExpectedDate,
		DeliveryDepositID: input.DeliveryDepositID,
		Currency:          currency,
		ExchangeRate:      rate,
		Status:            POStatusDraft,
		Subtotal:          totals.Subtotal,
		DiscountTotal:     totals.Discount,
		TaxTotal:          totals.Tax,
		Total:             totals.Total,
		Buyer:             strings.TrimSpace(input.Buyer),
		Notes:             strings.TrimSpace(input.Notes),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextOrderNumber(ctx, orderDate.Year())
		if err != nil {
			return err
		}
		po.Number = FormatOrderNumber(orderDate.Year(), seq)
		id, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		po.Lines = make([]POLine, 0, len(lines))
		for _, line := range lines {
			line.POID = id
			lineID, err := tx.InsertPOLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			po.Lines = append(po.Lines, line)
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "oc:crear", po.ID, map[string]any{"numero": po.Number, "total": po.Total})
	return po, nil
}

// FormatOrderNumber renders OC-<year>-<5 digit seq>.
func FormatOrderNumber(year int, seq int64) string {
	return fmt.Sprintf("OC-%d-%05d", year, seq)
}

// ChangeStatus moves the order along the transition table. Writing the
// current status is a no-op; Force allows any target and is recorded as an override.
func (s *Service) ChangeStatus(ctx context.Context, input ChangeStatusInput) (PurchaseOrder, error) {
	target := POStatus(strings.ToUpper(strings.TrimSpace(string(input.Status))))
	if !target.Valid() {
		return PurchaseOrder{}, ErrInvalidStatus
	}
	var (
		po      PurchaseOrder
		from    POStatus
		changed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		changed = false
		var err error
		po, err = tx.LockPO(ctx, input.POID)
		if err != nil {
			return err
		}
		from = po.Status
		if from == target {
			return nil
		}
		if !input.Force && !CanTransition(from, target) {
			return fmt.Errorf("%w: %s → %s", ErrTransition, from, target)
		}
		now := s.now()
		if err := tx.UpdatePOStatus(ctx, po.ID, target, now); err != nil {
			return err
		}
		po.Status = target
		po.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !changed {
		return po, nil
	}
	s.recordApproval(ctx, po, from, input)
	s.recordAudit(ctx, input.ActorID, "oc:estado", po.ID, map[string]any{
		"desde":   string(from),
		"hacia":   string(target),
		"forzado": input.Force,
	})
	return po, nil
}

// Receive increments received quantities, recomputes the header status from
// every line, records the receipt and then posts the stock of each line.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (ReceiveResult, error) {
	if len(input.Items) == 0 {
		return ReceiveResult{}, ErrNoReceiveItems
	}
	key := ""
	if input.IdempotencyKey != "" && s.idempotency != nil {
		key = receiptKey(input.POID, input.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, key, shared.IdempotencyReceipts); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return ReceiveResult{}, ErrReceiptDuplicate
			}
			return ReceiveResult{}, fmt.Errorf("procurement: receipt key: %w", err)
		}
	}
	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}

	var result ReceiveResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, input.POID)
		if err != nil {
			return err
		}
		if po.Status == POStatusCancelled {
			return fmt.Errorf("%w (%s)", ErrNotReceivable, po.Status)
		}
		lines, err := tx.ListPOLines(ctx, po.ID)
		if err != nil {
			return err
		}
		byID := make(map[int64]*POLine, len(lines))
		for i := range lines {
			byID[lines[i].ID] = &lines[i]
		}
		receipt := Receipt{
			POID:           po.ID,
			IdempotencyKey: input.IdempotencyKey,
			ReceivedAt:     receivedAt,
			ActorID:        input.ActorID,
		}
		touched := make([]int64, 0, len(input.Items))
		seen := make(map[int64]int, len(input.Items))
		var remitos []string
		for _, item := range input.Items {
			line, ok := byID[item.LineID]
			if !ok {
				return fmt.Errorf("%w: %d", ErrInvalidLine, item.LineID)
			}
			if item.Qty <= 0 || money.Round2(item.Qty) > line.Pending() {
				return fmt.Errorf("%w: ítem %d (pendiente %s)", ErrInvalidReceiveQty, item.LineID, shared.FormatQty(line.Pending()))
			}
			line.QtyReceived = money.Sum(line.QtyReceived, item.Qty)
			line.Status = line.derivedStatus()
			remito := strings.TrimSpace(item.Remito)
			if remito != "" && !contains(remitos, remito) {
				remitos = append(remitos, remito)
			}
			// one receipt line per PO line keeps the inbound keys unique
			if idx, ok := seen[line.ID]; ok {
				rl := &receipt.Lines[idx]
				rl.Qty = money.Sum(rl.Qty, item.Qty)
				if rl.Remito == "" {
					rl.Remito = remito
				}
				continue
			}
			seen[line.ID] = len(receipt.Lines)
			touched = append(touched, line.ID)
			depositID := line.DepositID
			if depositID == 0 {
				depositID = po.DeliveryDepositID
			}
			receipt.Lines = append(receipt.Lines, ReceiptLine{
				POLineID:   line.ID,
				RepuestoID: line.RepuestoID,
				DepositID:  depositID,
				Qty:        money.Round2(item.Qty),
				Remito:     remito,
			})
		}
		for _, id := range touched {
			if err := tx.UpdateLineProgress(ctx, *byID[id]); err != nil {
				return err
			}
		}

		fresh, err := tx.ListPOLines(ctx, po.ID)
		if err != nil {
			return err
		}
		status := headerStatus(fresh, true, po.Status)
		if po.Status == POStatusClosed {
			// settled by payment: goods still arriving do not reopen it
			status = POStatusClosed
		}
		now := s.now()
		if status != po.Status {
			if err := tx.UpdatePOStatus(ctx, po.ID, status, now); err != nil {
				return err
			}
			po.Status = status
			po.UpdatedAt = now
		}

		receipt.Remito = strings.Join(remitos, ", ")
		receiptID, err := tx.InsertReceipt(ctx, receipt)
		if err != nil {
			return err
		}
		receipt.ID = receiptID
		for i := range receipt.Lines {
			receipt.Lines[i].ReceiptID = receiptID
			lineID, err := tx.InsertReceiptLine(ctx, receipt.Lines[i])
			if err != nil {
				return err
			}
			receipt.Lines[i].ID = lineID
		}
		po.Lines = fresh
		result = ReceiveResult{Order: po, Receipt: receipt}
		return nil
	})
	if err != nil {
		if key != "" {
			if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
				s.logger.Warn("release receipt key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		return ReceiveResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "oc:recibir", input.POID, map[string]any{
		"recepcion": result.Receipt.ID,
		"items":     len(result.Receipt.Lines),
		"estado":    string(result.Order.Status),
	})

	if err := s.postReceiptLines(ctx, result.Receipt); err != nil {
		s.logger.Warn("receipt stock deferred",
			slog.Int64("receipt_id", result.Receipt.ID),
			slog.Int64("po_id", input.POID),
			slog.Any("error", err))
		result.StockPending = true
		s.deferReceiptStock(ctx, result.Receipt.ID)
	} else {
		result.Receipt.StockPosted = true
	}
	if s.metrics != nil {
		s.metrics.ObserveReceipt(result.StockPending)
	}
	return result, nil
}

// PostReceiptStock replays the stock posting of a receipt. Lines already
// posted are skipped through their inbound keys.
func (s *Service) PostReceiptStock(ctx context.Context, receiptID int64) error {
	receipt, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return err
	}
	if receipt.StockPosted {
		return nil
	}
	return s.postReceiptLines(ctx, receipt)
}

// ReplayPendingReceipts posts stock for receipts left unposted longer than
// grace and returns how many were posted.
func (s *Service) ReplayPendingReceipts(ctx context.Context, grace time.Duration, limit int) (int, error) {
	ids, err := s.repo.ListUnpostedReceipts(ctx, s.now().Add(-grace), limit)
	if err != nil {
		return 0, fmt.Errorf("procurement: list unposted receipts: %w", err)
	}
	posted := 0
	for _, id := range ids {
		if err := s.PostReceiptStock(ctx, id); err != nil {
			s.logger.Warn("receipt stock replay", slog.Int64("receipt_id", id), slog.Any("error", err))
			continue
		}
		posted++
	}
	return posted, nil
}

// CancelLineQuantity cancels part of the pending quantity of a line and
// recomputes the header status.
func (s *Service) CancelLineQuantity(ctx context.Context, input CancelLineInput) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.LockPO(ctx, input.POID)
		if err != nil {
			return err
		}
		if po.Status.Terminal() {
			return fmt.Errorf("%w (%s)", ErrNotReceivable, po.Status)
		}
		lines, err := tx.ListPOLines(ctx, po.ID)
		if err != nil {
			return err
		}
		idx := -1
		for i := range lines {
			if lines[i].ID == input.LineID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidLine, input.LineID)
		}
		line := lines[idx]
		if input.Qty <= 0 || money.Round2(input.Qty) > line.Pending() {
			return fmt.Errorf("%w: ítem %d (pendiente %s)", ErrInvalidCancelQty, line.ID, shared.FormatQty(line.Pending()))
		}
		line.QtyCancelled = money.Sum(line.QtyCancelled, input.Qty)
		line.Status = line.derivedStatus()
		if err := tx.UpdateLineProgress(ctx, line); err != nil {
			return err
		}
		lines[idx] = line
		received := false
		for _, l := range lines {
			if l.QtyReceived > 0 {
				received = true
				break
			}
		}
		status := headerStatus(lines, received, po.Status)
		if status != po.Status {
			now := s.now()
			if err := tx.UpdatePOStatus(ctx, po.ID, status, now); err != nil {
				return err
			}
			po.Status = status
			po.UpdatedAt = now
		}
		po.Lines = lines
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "oc:cancelar_cantidad", po.ID, map[string]any{
		"item":     input.LineID,
		"cantidad": input.Qty,
		"motivo":   input.Reason,
	})
	return po, nil
}

// GetPurchaseOrder returns the order with its lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, lines, err := s.repo.GetPO(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines = lines
	return po, nil
}

// ListPurchaseOrders returns a page of order headers and the total count.
func (s *Service) ListPurchaseOrders(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, 0, ErrInvalidStatus
	}
	return s.repo.ListPOs(ctx, filters)
}

func (s *Service) postReceiptLines(ctx context.Context, receipt Receipt) error {
	if s.inventory == nil {
		return errors.New("procurement: inventory integration not configured")
	}
	for _, line := range receipt.Lines {
		_, err := s.inventory.PostInbound(ctx, inventory.InboundInput{
			Key:        fmt.Sprintf("RECEPCION:%d:%d", receipt.ID, line.POLineID),
			DepositID:  line.DepositID,
			RepuestoID: line.RepuestoID,
			Qty:        line.Qty,
			RefModule:  inventory.RefReceipt,
			RefID:      receipt.ID,
			Note:       strings.TrimSpace("recepción OC " + strconv.FormatInt(receipt.POID, 10) + " " + line.Remito),
			ActorID:    receipt.ActorID,
		})
		if err != nil && !errors.Is(err, inventory.ErrAlreadyPosted) {
			return fmt.Errorf("procurement: post stock for line %d: %w", line.POLineID, err)
		}
	}
	return s.repo.MarkReceiptPosted(ctx, receipt.ID)
}

func (s *Service) deferReceiptStock(ctx context.Context, receiptID int64) {
	if s.enqueuer == nil {
		return
	}
	if err := s.enqueuer.EnqueueReceiptStock(ctx, receiptID); err != nil {
		s.logger.Error("enqueue receipt stock", slog.Int64("receipt_id", receiptID), slog.Any("error", err))
	}
}

func (s *Service) checkDeposits(ctx context.Context, input CreatePOInput) error {
	ids := map[int64]bool{}
	if input.DeliveryDepositID != 0 {
		ids[input.DeliveryDepositID] = true
	}
	for _, l := range input.Lines {
		if l.DepositID != 0 {
			ids[l.DepositID] = true
		}
	}
	if len(ids) == 0 {
		return ErrDepositNotFound
	}
	for id := range ids {
		ok, err := s.repo.DepositExists(ctx, id)
		if err != nil {
			return fmt.Errorf("procurement: deposit lookup: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %d", ErrDepositNotFound, id)
		}
	}
	return nil
}

func (s *Service) recordApproval(ctx context.Context, po PurchaseOrder, from POStatus, input ChangeStatusInput) {
	if s.approvals == nil {
		return
	}
	var action shared.ApprovalAction
	switch {
	case input.Force:
		action = shared.ApprovalOverride
	case po.Status == POStatusPendingApproval:
		action = shared.ApprovalSubmit
	case po.Status == POStatusApproved:
		action = shared.ApprovalApprove
	case from == POStatusPendingApproval && po.Status == POStatusDraft:
		action = shared.ApprovalReject
	default:
		return
	}
	note := input.Note
	if note == "" {
		note = fmt.Sprintf("%s: %s → %s", po.Number, from, po.Status)
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  shared.EntityPurchaseOrder,
		RefID:   shared.RefID(shared.EntityPurchaseOrder, po.ID),
		ActorID: input.ActorID,
		Action:  action,
		Note:    note,
	})
	if err != nil {
		s.logger.Warn("record approval", slog.Int64("po_id", po.ID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.NewAuditLog(actorID, action, shared.EntityPurchaseOrder, entityID, meta)); err != nil {
		s.logger.Warn("procurement audit", slog.String("action", action), slog.Any("error", err))
	}
}

func validateLine(l POLineInput) error {
	switch {
	case l.Qty <= 0:
		return ErrInvalidLineQty
	case l.RepuestoID <= 0:
		return ErrInvalidRepuesto
	case l.UnitPrice < 0:
		return ErrInvalidPrice
	case l.DiscountPct < 0 || l.DiscountPct > 100:
		return ErrInvalidDiscount
	case l.TaxRate < 0:
		return ErrInvalidTaxRate
	}
	return nil
}

func buildLines(input CreatePOInput) (money.Totals, []POLine) {
	amounts := make([]money.Line, 0, len(input.Lines))
	lines := make([]POLine, 0, len(input.Lines))
	for _, l := range input.Lines {
		amounts = append(amounts, money.Line{Qty: l.Qty, UnitPrice: l.UnitPrice, DiscountPct: l.DiscountPct, TaxRate: l.TaxRate})
		_, _, total := money.LineAmounts(l.Qty, l.UnitPrice, l.DiscountPct, l.TaxRate)
		depositID := l.DepositID
		if depositID == 0 {
			depositID = input.DeliveryDepositID
		}
		lines = append(lines, POLine{
			RepuestoID:  l.RepuestoID,
			Description: strings.TrimSpace(l.Description),
			Unit:        defaultString(strings.TrimSpace(l.Unit), "UN"),
			QtyOrdered:  l.Qty,
			UnitPrice:   l.UnitPrice,
			DiscountPct: l.DiscountPct,
			TaxRate:     l.TaxRate,
			LineTotal:   total,
			Status:      LineOpen,
			DepositID:   depositID,
		})
	}
	return money.OrderTotals(amounts), lines
}

// headerStatus derives the header after a quantity change: CERRADA when every
// line is complete, PARCIALMENTE_RECIBIDA once something was received, else unchanged.
func headerStatus(lines []POLine, received bool, current POStatus) POStatus {
	complete := len(lines) > 0
	for _, l := range lines {
		if !l.Complete() {
			complete = false
			break
		}
	}
	switch {
	case complete:
		return POStatusClosed
	case received:
		return POStatusPartiallyReceived
	default:
		return current
	}
}

func receiptKey(poID int64, key string) string {
	return fmt.Sprintf("OC:%d:%s", poID, key)
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
