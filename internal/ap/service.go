package ap

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flota-erp/flota-erp/internal/platform/money"
	"github.com/flota-erp/flota-erp/internal/procurement"
	"github.com/flota-erp/flota-erp/internal/shared"
)

// DefaultDueDays is the invoice term applied when no due date is given.
const DefaultDueDays = 30

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoiceLines(ctx context.Context, invoiceID int64) ([]InvoiceLine, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	ListInvoices(ctx context.Context, filters ListFilters) ([]Invoice, int, error)
	SupplierExists(ctx context.Context, id int64) (bool, error)
	ListOpenBalances(ctx context.Context) ([]OpenBalance, error)
}

// OrderReader loads purchase orders for invoicing.
type OrderReader interface {
	GetPurchaseOrder(ctx context.Context, id int64) (procurement.PurchaseOrder, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AgingCache stores computed aging reports.
type AgingCache interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context) error
}

// MetricsPort receives payables counters.
type MetricsPort interface {
	ObservePayment(invoices int, amount float64)
	ObservePOClosed()
}

// Service implements supplier invoice and payment flows.
type Service struct {
	repo    RepositoryPort
	orders  OrderReader
	audit   AuditPort
	aging   AgingCache
	metrics MetricsPort
	logger  *slog.Logger
	dueDays int
	now     func() time.Time
}

// NewService builds the payables service.
func NewService(repo RepositoryPort, orders OrderReader, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		orders:  orders,
		audit:   audit,
		logger:  logger,
		dueDays: DefaultDueDays,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetAgingCache injects the aging report cache.
func (s *Service) SetAgingCache(c AgingCache) {
	s.aging = c
}

// SetMetrics injects the metrics sink.
func (s *Service) SetMetrics(m MetricsPort) {
	s.metrics = m
}

// SetPaymentDueDays overrides the default invoice term.
func (s *Service) SetPaymentDueDays(days int) {
	if days > 0 {
		s.dueDays = days
	}
}

// CreateInvoiceFromPO mirrors every line of the order at its ordered quantity.
func (s *Service) CreateInvoiceFromPO(ctx context.Context, input CreateFromPOInput) (Invoice, error) {
	po, err := s.orders.GetPurchaseOrder(ctx, input.POID)
	if err != nil {
		return Invoice{}, err
	}
	ok, err := s.repo.SupplierExists(ctx, po.SupplierID)
	if err != nil {
		return Invoice{}, fmt.Errorf("ap: supplier lookup: %w", err)
	}
	if !ok {
		return Invoice{}, ErrSupplierNotFound
	}
	if len(po.Lines) == 0 {
		return Invoice{}, ErrPOWithoutLines
	}

	issue := input.IssueDate
	if issue.IsZero() {
		issue = s.now()
	}
	due := issue.AddDate(0, 0, s.dueDays)
	if input.DueDate != nil {
		if input.DueDate.Before(issue) {
			return Invoice{}, ErrInvalidDueDate
		}
		due = *input.DueDate
	}

	now := s.now()
	inv := Invoice{
		SupplierID:     po.SupplierID,
		POID:           po.ID,
		SupplierNumber: strings.TrimSpace(input.SupplierNumber),
		IssueDate:      issue,
		DueDate:        due,
		Currency:       po.Currency,
		ExchangeRate:   po.ExchangeRate,
		Status:         InvoicePending,
		Notes:          strings.TrimSpace(input.Notes),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inv.Lines = invoiceLines(po.Lines)
	applyTotals(&inv)
	inv = settle(inv, 0, now)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateInvoice(ctx, inv)
		if err != nil {
			return err
		}
		inv.ID = id
		for i := range inv.Lines {
			inv.Lines[i].InvoiceID = id
			lineID, err := tx.InsertInvoiceLine(ctx, inv.Lines[i])
			if err != nil {
				return err
			}
			inv.Lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.invalidateAging(ctx)
	s.recordAudit(ctx, input.ActorID, "factura:crear_desde_oc", inv.ID, map[string]any{
		"orden_compra": po.Number,
		"total":        inv.Total,
	})
	return inv, nil
}

// RegisterPayment appends a payment, recomputes the invoice saldo and closes
// the purchase order once every invoice of it is settled.
func (s *Service) RegisterPayment(ctx context.Context, input PaymentInput) (PaymentResult, error) {
	method, err := normalizeMethod(input.Method)
	if err != nil {
		return PaymentResult{}, err
	}
	if input.Amount < 0 || input.RetIVA < 0 || input.RetGanancias < 0 || input.RetIIBB < 0 {
		return PaymentResult{}, ErrInvalidAmount
	}
	payment := Payment{
		InvoiceID:    input.InvoiceID,
		PaidAt:       s.dateOrNow(input.PaidAt),
		Method:       method,
		Amount:       money.Round2(input.Amount),
		RetIVA:       money.Round2(input.RetIVA),
		RetGanancias: money.Round2(input.RetGanancias),
		RetIIBB:      money.Round2(input.RetIIBB),
		Reference:    strings.TrimSpace(input.Reference),
		Notes:        strings.TrimSpace(input.Notes),
		ActorID:      input.ActorID,
	}
	if money.IsZero(money.Sum(payment.Amount, payment.Retentions())) {
		return PaymentResult{}, ErrEmptyPayment
	}

	var result PaymentResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status == InvoiceVoid {
			return ErrVoidPayment
		}
		now := s.now()
		payment.CreatedAt = now
		payment.ID, err = tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		inv = settle(inv, money.Sum(payment.Amount, payment.Retentions()), now)
		if err := tx.UpdateBalance(ctx, inv.ID, inv.Balance, inv.Status, now); err != nil {
			return err
		}
		closed := false
		if inv.POID != 0 {
			if closed, err = s.closeOrderIfSettled(ctx, tx, inv.POID); err != nil {
				return err
			}
		}
		result = PaymentResult{Payment: payment, Invoice: inv, POClosed: closed}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}
	s.afterPayment(ctx, input.ActorID, []Payment{result.Payment}, result.POClosed, result.Invoice.POID)
	s.recordAudit(ctx, input.ActorID, "factura:pago", result.Invoice.ID, map[string]any{
		"monto":       payment.Amount,
		"retenciones": payment.Retentions(),
		"saldo":       result.Invoice.Balance,
		"estado":      string(result.Invoice.Status),
	})
	return result, nil
}

// RegisterMultiplePayment settles the selected invoices of one supplier with
// instruments whose sum equals the sum of their balances.
func (s *Service) RegisterMultiplePayment(ctx context.Context, input MultiPaymentInput) (MultiPaymentResult, error) {
	ids := uniqueIDs(input.InvoiceIDs)
	if len(ids) == 0 {
		return MultiPaymentResult{}, ErrNoInvoices
	}
	if len(input.Instruments) == 0 {
		return MultiPaymentResult{}, ErrNoInstruments
	}
	instruments := make([]Instrument, len(input.Instruments))
	amounts := make([]float64, 0, len(input.Instruments))
	for i, in := range input.Instruments {
		method, err := normalizeMethod(in.Method)
		if err != nil {
			return MultiPaymentResult{}, err
		}
		if in.Amount <= 0 {
			return MultiPaymentResult{}, ErrInvalidAmount
		}
		instruments[i] = Instrument{Method: method, Amount: money.Round2(in.Amount), Reference: strings.TrimSpace(in.Reference)}
		amounts = append(amounts, instruments[i].Amount)
	}
	paidAt := s.dateOrNow(input.PaidAt)
	batch := uuid.New()

	var (
		result    MultiPaymentResult
		closedPOs []int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var (
			payments []Payment
			closed   []int64
		)
		invoices := make([]Invoice, 0, len(ids))
		balances := make([]float64, 0, len(ids))
		for _, id := range ids {
			inv, err := tx.LockInvoice(ctx, id)
			if err != nil {
				return err
			}
			if inv.Status == InvoiceVoid {
				return fmt.Errorf("%w: %s", ErrVoidPayment, inv.SupplierNumber)
			}
			if !inv.Status.Payable() {
				return fmt.Errorf("%w: %s", ErrNotPayable, inv.SupplierNumber)
			}
			if input.SupplierID != 0 && inv.SupplierID != input.SupplierID {
				return ErrSupplierMismatch
			}
			if len(invoices) > 0 && inv.SupplierID != invoices[0].SupplierID {
				return ErrSupplierMismatch
			}
			invoices = append(invoices, inv)
			balances = append(balances, inv.Balance)
		}
		due, paying := money.Sum(balances...), money.Sum(amounts...)
		if !money.Equal(due, paying) {
			return fmt.Errorf("%w (saldo %s, medios %s)", ErrSettlementMismatch, shared.FormatAmount(due), shared.FormatAmount(paying))
		}

		sort.SliceStable(invoices, func(i, j int) bool {
			if !invoices[i].DueDate.Equal(invoices[j].DueDate) {
				return invoices[i].DueDate.Before(invoices[j].DueDate)
			}
			return invoices[i].ID < invoices[j].ID
		})
		ordered := make([]float64, len(invoices))
		for i, inv := range invoices {
			ordered[i] = inv.Balance
		}
		now := s.now()
		for _, a := range allocate(ordered, instruments) {
			inv := invoices[a.invoice]
			instr := instruments[a.instrument]
			p := Payment{
				InvoiceID: inv.ID,
				PaidAt:    paidAt,
				Method:    instr.Method,
				Amount:    a.amount,
				Reference: instr.Reference,
				Notes:     strings.TrimSpace(input.Notes),
				BatchID:   &batch,
				ActorID:   input.ActorID,
				CreatedAt: now,
			}
			id, err := tx.InsertPayment(ctx, p)
			if err != nil {
				return err
			}
			p.ID = id
			payments = append(payments, p)
		}

		pos := make([]int64, 0, len(invoices))
		for i := range invoices {
			invoices[i] = settle(invoices[i], invoices[i].Balance, now)
			if err := tx.UpdateBalance(ctx, invoices[i].ID, invoices[i].Balance, invoices[i].Status, now); err != nil {
				return err
			}
			if invoices[i].POID != 0 {
				pos = append(pos, invoices[i].POID)
			}
		}
		for _, poID := range uniqueIDs(pos) {
			ok, err := s.closeOrderIfSettled(ctx, tx, poID)
			if err != nil {
				return err
			}
			if ok {
				closed = append(closed, poID)
			}
		}
		result = MultiPaymentResult{BatchID: batch, Payments: payments, Invoices: invoices}
		closedPOs = closed
		return nil
	})
	if err != nil {
		return MultiPaymentResult{}, err
	}
	s.afterPayment(ctx, input.ActorID, result.Payments, false, 0)
	for _, poID := range closedPOs {
		s.recordAuditEntity(ctx, input.ActorID, "oc:cerrar_por_pago", shared.EntityPurchaseOrder, poID, map[string]any{"lote": batch.String()})
		if s.metrics != nil {
			s.metrics.ObservePOClosed()
		}
	}
	for _, inv := range result.Invoices {
		s.recordAudit(ctx, input.ActorID, "factura:pago_multiple", inv.ID, map[string]any{
			"lote":   batch.String(),
			"estado": string(inv.Status),
		})
	}
	return result, nil
}

// VoidInvoice sets the invoice ANULADA with saldo 0. Purchase orders are not re-evaluated.
func (s *Service) VoidInvoice(ctx context.Context, input VoidInput) (Invoice, error) {
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.LockInvoice(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		now := s.now()
		reason := strings.TrimSpace(input.Reason)
		if err := tx.VoidInvoice(ctx, inv.ID, reason, now); err != nil {
			return err
		}
		inv.Status = InvoiceVoid
		inv.Balance = 0
		inv.VoidReason = reason
		inv.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.invalidateAging(ctx)
	s.recordAudit(ctx, input.ActorID, "factura:anular", inv.ID, map[string]any{"motivo": inv.VoidReason})
	return inv, nil
}

// ReevaluatePOClosure re-runs the closure check of a purchase order.
func (s *Service) ReevaluatePOClosure(ctx context.Context, poID int64) (bool, error) {
	var closed bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		closed, err = s.closeOrderIfSettled(ctx, tx, poID)
		return err
	})
	if err != nil {
		return false, err
	}
	if closed && s.metrics != nil {
		s.metrics.ObservePOClosed()
	}
	return closed, nil
}

// GetInvoice returns the invoice with its lines and payments.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Lines, err = s.repo.ListInvoiceLines(ctx, id); err != nil {
		return Invoice{}, err
	}
	if inv.Payments, err = s.repo.ListPayments(ctx, id); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// ListInvoices returns a page of invoices and the total count.
func (s *Service) ListInvoices(ctx context.Context, filters ListFilters) ([]Invoice, int, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, 0, ErrInvalidStatus
	}
	return s.repo.ListInvoices(ctx, filters)
}

// ListPaymentsByInvoice returns the payment history of an invoice.
func (s *Service) ListPaymentsByInvoice(ctx context.Context, invoiceID int64) ([]Payment, error) {
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, invoiceID)
}

// CalculateAging buckets outstanding balances by days past due at asOf.
func (s *Service) CalculateAging(ctx context.Context, asOf time.Time) (AgingReport, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	day := asOf.Format("2006-01-02")
	loader := func(ctx context.Context) (any, error) {
		balances, err := s.repo.ListOpenBalances(ctx)
		if err != nil {
			return nil, fmt.Errorf("ap: open balances: %w", err)
		}
		return BuildAging(asOf, balances), nil
	}
	if s.aging == nil {
		report, err := loader(ctx)
		if err != nil {
			return AgingReport{}, err
		}
		return report.(AgingReport), nil
	}
	key, err := s.aging.BuildKey(ctx, day)
	if err != nil {
		return AgingReport{}, fmt.Errorf("ap: aging key: %w", err)
	}
	var report AgingReport
	if err := s.aging.FetchJSON(ctx, key, &report, loader); err != nil {
		return AgingReport{}, err
	}
	return report, nil
}

// BuildAging groups balances into current, 1-30, 31-60, 61-90 and over 90 days past due.
func BuildAging(asOf time.Time, balances []OpenBalance) AgingReport {
	asOfDay := truncateDay(asOf)
	report := AgingReport{AsOf: asOfDay}
	var current, b30, b60, b90, over []float64
	for _, b := range balances {
		if b.Balance <= 0 {
			continue
		}
		report.Invoices++
		days := int(asOfDay.Sub(truncateDay(b.DueDate)).Hours() / 24)
		switch {
		case days <= 0:
			current = append(current, b.Balance)
		case days <= 30:
			b30 = append(b30, b.Balance)
		case days <= 60:
			b60 = append(b60, b.Balance)
		case days <= 90:
			b90 = append(b90, b.Balance)
		default:
			over = append(over, b.Balance)
		}
	}
	report.Current = money.Sum(current...)
	report.Days1To30 = money.Sum(b30...)
	report.Days31To60 = money.Sum(b60...)
	report.Days61To90 = money.Sum(b90...)
	report.Over90 = money.Sum(over...)
	report.Total = money.Sum(report.Current, report.Days1To30, report.Days31To60, report.Days61To90, report.Over90)
	return report
}

func (s *Service) closeOrderIfSettled(ctx context.Context, tx TxRepository, poID int64) (bool, error) {
	status, err := tx.LockPOStatus(ctx, poID)
	if err != nil {
		return false, err
	}
	if status == procurement.POStatusClosed || status == procurement.POStatusCancelled {
		return false, nil
	}
	balances, err := tx.LockPOBalances(ctx, poID)
	if err != nil {
		return false, err
	}
	if !money.IsZero(money.Sum(balances...)) {
		return false, nil
	}
	if err := tx.ClosePO(ctx, poID, s.now()); err != nil {
		return false, err
	}
	s.logger.Info("purchase order settled", slog.Int64("po_id", poID), slog.String("from", string(status)))
	return true, nil
}

func (s *Service) afterPayment(ctx context.Context, actorID int64, payments []Payment, poClosed bool, poID int64) {
	s.invalidateAging(ctx)
	if poClosed {
		s.recordAuditEntity(ctx, actorID, "oc:cerrar_por_pago", shared.EntityPurchaseOrder, poID, nil)
	}
	if s.metrics == nil {
		return
	}
	invoices := map[int64]bool{}
	var total []float64
	for _, p := range payments {
		invoices[p.InvoiceID] = true
		total = append(total, p.Amount)
	}
	s.metrics.ObservePayment(len(invoices), money.Sum(total...))
	if poClosed {
		s.metrics.ObservePOClosed()
	}
}

func (s *Service) invalidateAging(ctx context.Context) {
	if s.aging == nil {
		return
	}
	if err := s.aging.Bump(ctx); err != nil {
		s.logger.Warn("bump aging cache", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, invoiceID int64, meta map[string]any) {
	s.recordAuditEntity(ctx, actorID, action, shared.EntityInvoice, invoiceID, meta)
}

func (s *Service) recordAuditEntity(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.NewAuditLog(actorID, action, entity, id, meta)); err != nil {
		s.logger.Warn("ap audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) dateOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

// settle applies amount to the saldo and derives the status.
func settle(inv Invoice, amount float64, at time.Time) Invoice {
	inv.Balance = money.Max0(money.Sub(inv.Balance, amount))
	switch {
	case money.IsZero(inv.Balance):
		inv.Status = InvoicePaid
	case inv.Balance < inv.Total:
		inv.Status = InvoicePartial
	default:
		inv.Status = InvoicePending
	}
	inv.UpdatedAt = at
	return inv
}

func invoiceLines(lines []procurement.POLine) []InvoiceLine {
	out := make([]InvoiceLine, 0, len(lines))
	for _, l := range lines {
		sub, tax, total := money.LineAmounts(l.QtyOrdered, l.UnitPrice, l.DiscountPct, l.TaxRate)
		out = append(out, InvoiceLine{
			POLineID:    l.ID,
			RepuestoID:  l.RepuestoID,
			Description: l.Description,
			Qty:         l.QtyOrdered,
			UnitPrice:   l.UnitPrice,
			DiscountPct: l.DiscountPct,
			TaxRate:     l.TaxRate,
			Subtotal:    sub,
			TaxAmount:   tax,
			Total:       total,
		})
	}
	return out
}

func applyTotals(inv *Invoice) {
	var net, vat21, vat105, other, total []float64
	for _, l := range inv.Lines {
		net = append(net, l.Subtotal)
		total = append(total, l.Total)
		switch l.TaxRate {
		case 21:
			vat21 = append(vat21, l.TaxAmount)
		case 10.5:
			vat105 = append(vat105, l.TaxAmount)
		default:
			other = append(other, l.TaxAmount)
		}
	}
	inv.Net = money.Sum(net...)
	inv.VAT21 = money.Sum(vat21...)
	inv.VAT105 = money.Sum(vat105...)
	inv.OtherTaxes = money.Sum(other...)
	inv.Total = money.Sum(total...)
	inv.Balance = inv.Total
}

type allocation struct {
	invoice    int
	instrument int
	amount     float64
}

// allocate spreads instruments over balances in order. Every (instrument,
// invoice) overlap becomes one allocation.
func allocate(balances []float64, instruments []Instrument) []allocation {
	var out []allocation
	i := 0
	left := 0.0
	if len(instruments) > 0 {
		left = instruments[0].Amount
	}
	for k, due := range balances {
		for due > 0 && i < len(instruments) {
			take := due
			if left < take {
				take = left
			}
			if take > 0 {
				out = append(out, allocation{invoice: k, instrument: i, amount: money.Round2(take)})
			}
			due = money.Sub(due, take)
			left = money.Sub(left, take)
			if left <= 0 {
				i++
				if i < len(instruments) {
					left = instruments[i].Amount
				}
			}
		}
	}
	return out
}

func normalizeMethod(m PaymentMethod) (PaymentMethod, error) {
	m = PaymentMethod(strings.ToUpper(strings.TrimSpace(string(m))))
	if m == "" {
		return MethodTransfer, nil
	}
	if !m.Valid() {
		return "", ErrInvalidMethod
	}
	return m, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
