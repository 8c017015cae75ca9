package procurement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flota-erp/flota-erp/internal/inventory"
	"github.com/flota-erp/flota-erp/internal/shared"
)

type fakeInventory struct {
	posted map[string]inventory.InboundInput
	fail   error
}

func (f *fakeInventory) PostInbound(ctx context.Context, input inventory.InboundInput) (inventory.StockCardEntry, error) {
	if f.fail != nil {
		return inventory.StockCardEntry{}, f.fail
	}
	if _, ok := f.posted[input.Key]; ok {
		return inventory.StockCardEntry{}, inventory.ErrAlreadyPosted
	}
	f.posted[input.Key] = input
	return inventory.StockCardEntry{RepuestoID: input.RepuestoID, QtyIn: input.Qty}, nil
}

type recordingApprovals struct {
	actions []shared.ApprovalAction
}

func (a *recordingApprovals) Record(ctx context.Context, log shared.ApprovalLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

type recordingAudit struct {
	actions []string
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

type recordingEnqueuer struct {
	receipts []int64
}

func (e *recordingEnqueuer) EnqueueReceiptStock(ctx context.Context, receiptID int64) error {
	e.receipts = append(e.receipts, receiptID)
	return nil
}

type fixture struct {
	svc       *Service
	repo      *memoryRepo
	inventory *fakeInventory
	approvals *recordingApprovals
	audit     *recordingAudit
	idem      *memoryIdempotency
	enqueuer  *recordingEnqueuer
}

func newFixture() fixture {
	f := fixture{
		repo:      newMemoryRepo(),
		inventory: &fakeInventory{posted: make(map[string]inventory.InboundInput)},
		approvals: &recordingApprovals{},
		audit:     &recordingAudit{},
		idem:      newMemoryIdempotency(),
		enqueuer:  &recordingEnqueuer{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.repo, f.inventory, f.approvals, f.audit, f.idem, logger)
	f.svc.SetReceiptStockEnqueuer(f.enqueuer)
	f.svc.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return f
}

func sampleInput(lines ...POLineInput) CreatePOInput {
	return CreatePOInput{
		SupplierID:        1,
		OrderDate:         time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		DeliveryDepositID: 1,
		ActorID:           9,
		Lines:             lines,
	}
}

func createSent(t *testing.T, f fixture, lines ...POLineInput) PurchaseOrder {
	t.Helper()
	ctx := context.Background()
	po, err := f.svc.CreatePurchaseOrder(ctx, sampleInput(lines...))
	require.NoError(t, err)
	for _, st := range []POStatus{POStatusApproved, POStatusSent} {
		_, err = f.svc.ChangeStatus(ctx, ChangeStatusInput{POID: po.ID, Status: st, ActorID: 9})
		require.NoError(t, err)
	}
	po, err = f.svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	return po
}

func TestCreatePurchaseOrderTotalsAndNumbering(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	po, err := f.svc.CreatePurchaseOrder(ctx, sampleInput(POLineInput{RepuestoID: 100, Qty: 10, UnitPrice: 100, TaxRate: 21}))
	require.NoError(t, err)
	require.Equal(t, "OC-2025-00001", po.Number)
	require.Equal(t, POStatusDraft, po.Status)
	require.Equal(t, CurrencyARS, po.Currency)
	require.Equal(t, 1.0, po.ExchangeRate)
	require.Equal(t, 1000.0, po.Subtotal)
	require.Equal(t, 210.0, po.TaxTotal)
	require.Equal(t, 1210.0, po.Total)
	require.Len(t, po.Lines, 1)
	require.Equal(t, 1210.0, po.Lines[0].LineTotal)
	require.Equal(t, LineOpen, po.Lines[0].Status)
	require.Equal(t, int64(1), po.Lines[0].DepositID)

	second, err := f.svc.CreatePurchaseOrder(ctx, sampleInput(
		POLineInput{RepuestoID: 100, Qty: 10, UnitPrice: 100, DiscountPct: 10, TaxRate: 21},
		POLineInput{RepuestoID: 101, Qty: 2, UnitPrice: 100, TaxRate: 10.5, DepositID: 2},
	))
	require.NoError(t, err)
	require.Equal(t, "OC-2025-00002", second.Number)
	require.Equal(t, 1200.0, second.Subtotal)
	require.Equal(t, 100.0, second.DiscountTotal)
	require.Equal(t, 210.0, second.TaxTotal)
	require.Equal(t, 1310.0, second.Total)
	require.Equal(t, int64(2), second.Lines[1].DepositID)

	require.Equal(t, []string{"oc:crear", "oc:crear"}, f.audit.actions)
}

func TestCreatePurchaseOrderValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.svc.CreatePurchaseOrder(ctx, sampleInput())
	require.ErrorIs(t, err, ErrNoLines)
	require.Equal(t, "la orden de compra debe tener al menos un ítem", shared.UserMessage(err))

	_, err = f.svc.CreatePurchaseOrder(ctx, sampleInput(POLineInput{RepuestoID: 100, Qty: 0, UnitPrice: 10}))
	require.ErrorIs(t, err, ErrInvalidLineQty)
	require.Equal(t, "la cantidad de cada ítem debe ser mayor a cero", shared.UserMessage(err))

	_, err = f.svc.CreatePurchaseOrder(ctx, sampleInput(POLineInput{RepuestoID: 100, Qty: 1, UnitPrice: 10, DiscountPct: 150}))
	require.ErrorIs(t, err, ErrInvalidDiscount)

	_, err = f.svc.CreatePurchaseOrder(ctx, sampleInput(POLineInput{RepuestoID: 100, Qty: 1, UnitPrice: -1}))
	require.ErrorIs(t, err, ErrInvalidPrice)

	in := sampleInput(POLineInput{RepuestoID: 100, Qty: 1, UnitPrice: 10})
	in.SupplierID = 77
	_, err = f.svc.CreatePurchaseOrder(ctx, in)
	require.ErrorIs(t, err, ErrSupplierNotFound)

	in = sampleInput(POLineInput{RepuestoID: 100, Qty: 1, UnitPrice: 10})
	in.Currency = "EUR"
	_, err = f.svc.CreatePurchaseOrder(ctx, in)
	require.ErrorIs(t, err, ErrInvalidCurrency)

	in = sampleInput(POLineInput{RepuestoID: 100, Qty: 1, UnitPrice: 10, DepositID: 5})
	_, err = f.svc.CreatePurchaseOrder(ctx, in)
	require.ErrorIs(t, err, ErrDepositNotFound)

	require.Empty(t, f.repo.pos)
	require.Empty(t, f.repo.sequences)
}

func TestChangeStatusTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	po, err := f.svc.CreatePurchaseOrder(ctx, sampleInput(POLineInput{RepuestoID: 100, Qty: 1, UnitPrice: 10}))
	require.NoError(t, err)

	_, err = f.svc.ChangeStatus(ctx, ChangeStatusInput{POID: po.ID, Status: "INEXISTENTE"})
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.svc.ChangeStatus(ctx, ChangeStatusInput{POID: po.ID, Status: POStatusSent})
	require.ErrorIs(t, err, ErrTransition)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	steps := []POStatus{POStatusPendingApproval, POStatusDraft, POStatusPendingApproval, POStatusApproved, POStatusSent}
	for _, st := range steps {
		updated, err := f.svc.ChangeStatus(ctx, ChangeStatusInput{POID: po.ID, Status: st, ActorID: 4})
		require.NoError(t, err, st)
		require.Equal(t, st, updated.Status)
	}

	same, err := f.svc.ChangeStatus(ctx, ChangeStatusInput{POID: po.ID, Status: POStatusSent})
	require.NoError(t, err)
	require.Equal(t, POStatusSent, same.Status)

	_, err = f.svc.ChangeStatus(ctx, ChangeStatusInput{POID: po.ID, Status: POStatusDraft})
	require.ErrorIs(t, err, ErrTransition)

	forced, err := f.svc.ChangeStatus(ctx, ChangeStatusInput{POID: po.ID, Status: POStatusDraft, Force: true, Note: "corrección"})
	require.NoError(t, err)
	require.Equal(t, POStatusDraft, forced.Status)

	require.Equal(t, []shared.ApprovalAction{
		shared.ApprovalSubmit,
		shared.ApprovalReject,
		shared.ApprovalSubmit,
		shared.ApprovalApprove,
		shared.ApprovalOverride,
	}, f.approvals.actions)

	_, err = f.svc.ChangeStatus(ctx, ChangeStatusInput{POID: 999, Status: POStatusSent})
	require.ErrorIs(t, err, ErrPONotFound)
}

func TestReceivePartialThenComplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	po := createSent(t, f,
		POLineInput{RepuestoID: 100, Qty: 2, UnitPrice: 50, TaxRate: 21},
		POLineInput{RepuestoID: 101, Qty: 5, UnitPrice: 10, TaxRate: 21, DepositID: 2},
	)
	first, second := po.Lines[0], po.Lines[1]

	_, err := f.svc.Receive(ctx, ReceiveInput{POID: po.ID, Items: []ReceiveItem{{LineID: first.ID, Qty: 3}}})
	require.ErrorIs(t, err, ErrInvalidReceiveQty)
	require.Equal(t, 0.0, f.repo.lines[first.ID].QtyReceived)

	_, err = f.svc.Receive(ctx, ReceiveInput{POID: po.ID, Items: []ReceiveItem{{LineID: 12345, Qty: 1}}})
	require.ErrorIs(t, err, ErrInvalidLine)

	res, err := f.svc.Receive(ctx, ReceiveInput{POID: po.ID, Items: []ReceiveItem{
		{LineID: first.ID, Qty: 1, Remito: "R-0001"},
		{LineID: first.ID, Qty: 1, Remito: "R-0001"},
		{LineID: second.ID, Qty: 3, Remito: "R-0002"},
	}})
	require.NoError(t, err)
	require.False(t, res.StockPending)
	require.True(t, res.Receipt.StockPosted)
	require.Equal(t, POStatusPartiallyReceived, res.Order.Status)
	require.Equal(t, "R-0001, R-0002", res.Receipt.Remito)
	require.Equal(t, LineClosed, f.repo.lines[first.ID].Status)
	require.Equal(t, LineOpen, f.repo.lines[second.ID].Status)
	require.Equal(t, 3.0, f.repo.lines[second.ID].QtyReceived)
	require.Len(t, f.inventory.posted, 2)
	require.Len(t, res.Receipt.Lines, 2)
	require.Equal(t, 2.0, res.Receipt.Lines[0].Qty)
	require.True(t, f.repo.receipts[res.Receipt.ID].StockPosted)

	_, err = f.svc.Receive(ctx, ReceiveInput{POID: po.ID, Items: []ReceiveItem{{LineID: second.ID, Qty: 2.5}}})
	require.ErrorIs(t, err, ErrInvalidReceiveQty)

	res, err = f.svc.Receive(ctx, ReceiveInput{POID: po.ID, Items: []ReceiveItem{{LineID: second.ID, Qty: 2}}})
	require.NoError(t, err)
	require.Equal(t, POStatusClosed, res.Order.Status)
	require.Equal(t, POStatusClosed, f.repo.pos[po.ID].Status)

	var deposit2 float64
	for _, in := range f.inventory.posted {
		require.Equal(t, inventory.RefReceipt, in.RefModule)
		if in.DepositID == 2 {
			deposit2 += in.Qty
		}
	}
	require.Equal(t, 5.0, deposit2)

	_, err = f.svc.Receive(ctx, ReceiveInput{POID: po.ID, Items: []ReceiveItem{{LineID: second.ID, Qty: 1}}})
	require.ErrorIs(t, err, ErrInvalidReceiveQty)
}

func TestReceiveIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	po := createSent(t, f, POLineInput{RepuestoID: 100, Qty: 4, UnitPrice: 10})
	line := po.Lines[0]

	_, err := f.svc.Receive(ctx, ReceiveInput{POID: po.ID, IdempotencyKey: "rx-1", Items: []ReceiveItem{{LineID: line.ID, Qty: 10}}})
	require.ErrorIs(t, err, ErrInvalidReceiveQty)
	require.Empty(t, f.idem.keys, "failed receipts release their key")

	_, err = f.svc.Receive(ctx, ReceiveInput{POID: po.ID, IdempotencyKey: "rx-1", Items: []ReceiveItem{{LineID: line.ID, Qty: 1}}})
	require.NoError(t, err)

	_, err = f.svc.Receive(ctx, ReceiveInput{POID: po.ID, IdempotencyKey: "rx-1", Items: []ReceiveItem{{LineID: line.ID, Qty: 1}}})
	require.ErrorIs(t, err, ErrReceiptDuplicate)
	require.Equal(t, "la recepción ya fue registrada", shared.UserMessage(err))
	require.Equal(t, 1.0, f.repo.lines[line.ID].QtyReceived)
	require.Equal(t, shared.IdempotencyReceipts, f.idem.keys["OC:1:rx-1"])
}

func TestReceiveDefersStockWhenInventoryFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	po := createSent(t, f, POLineInput{RepuestoID: 100, Qty: 4, UnitPrice: 10})
	f.inventory.fail = errors.New("connection reset")

	res, err := f.svc.Receive(ctx, ReceiveInput{POID: po.ID, Items: []ReceiveItem{{LineID: po.Lines[0].ID, Qty: 4}}})
	require.NoError(t, err)
	require.True(t, res.StockPending)
	require.Equal(t, POStatusClosed, res.Order.Status)
	require.Equal(t, []int64{res.Receipt.ID}, f.enqueuer.receipts)
	require.False(t, f.repo.receipts[res.Receipt.ID].StockPosted)

	f.inventory.fail = nil
	require.NoError(t, f.svc.PostReceiptStock(ctx, res.Receipt.ID))
	require.True(t, f.repo.receipts[res.Receipt.ID].StockPosted)
	require.Len(t, f.inventory.posted, 1)

	// replays are no-ops once posted
	require.NoError(t, f.svc.PostReceiptStock(ctx, res.Receipt.ID))
	require.Len(t, f.inventory.posted, 1)

	require.ErrorIs(t, f.svc.PostReceiptStock(ctx, 999), ErrReceiptNotFound)
}

func TestReplayPendingReceipts(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	po := createSent(t, f, POLineInput{RepuestoID: 100, Qty: 4, UnitPrice: 10})
	f.inventory.fail = errors.New("timeout")
	res, err := f.svc.Receive(ctx, ReceiveInput{
		POID:       po.ID,
		ReceivedAt: time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
		Items:      []ReceiveItem{{LineID: po.Lines[0].ID, Qty: 1}},
	})
	require.NoError(t, err)
	require.True(t, res.StockPending)

	f.inventory.fail = nil
	n, err := f.svc.ReplayPendingReceipts(ctx, time.Hour, 50)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, f.repo.receipts[res.Receipt.ID].StockPosted)
}

func TestCancelLineQuantityClosesOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	po := createSent(t, f,
		POLineInput{RepuestoID: 100, Qty: 10, UnitPrice: 10},
		POLineInput{RepuestoID: 101, Qty: 1, UnitPrice: 10},
	)
	first, second := po.Lines[0], po.Lines[1]

	_, err := f.svc.CancelLineQuantity(ctx, CancelLineInput{POID: po.ID, LineID: first.ID, Qty: 11})
	require.ErrorIs(t, err, ErrInvalidCancelQty)

	updated, err := f.svc.CancelLineQuantity(ctx, CancelLineInput{POID: po.ID, LineID: second.ID, Qty: 1, Reason: "discontinuado"})
	require.NoError(t, err)
	require.Equal(t, POStatusSent, updated.Status)
	require.Equal(t, LineClosed, f.repo.lines[second.ID].Status)

	res, err := f.svc.Receive(ctx, ReceiveInput{POID: po.ID, Items: []ReceiveItem{{LineID: first.ID, Qty: 6}}})
	require.NoError(t, err)
	require.Equal(t, POStatusPartiallyReceived, res.Order.Status)

	updated, err = f.svc.CancelLineQuantity(ctx, CancelLineInput{POID: po.ID, LineID: first.ID, Qty: 4})
	require.NoError(t, err)
	require.Equal(t, POStatusClosed, updated.Status)
	require.Equal(t, 4.0, f.repo.lines[first.ID].QtyCancelled)
}

func TestCancelledOrderRejectsReceipts(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	po := createSent(t, f, POLineInput{RepuestoID: 100, Qty: 1, UnitPrice: 10})
	_, err := f.svc.ChangeStatus(ctx, ChangeStatusInput{POID: po.ID, Status: POStatusCancelled})
	require.NoError(t, err)

	_, err = f.svc.Receive(ctx, ReceiveInput{POID: po.ID, Items: []ReceiveItem{{LineID: po.Lines[0].ID, Qty: 1}}})
	require.ErrorIs(t, err, ErrNotReceivable)
	require.Empty(t, f.repo.receipts)
}

func TestReceiveAfterPaymentClosure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	po := createSent(t, f, POLineInput{RepuestoID: 100, Qty: 10, UnitPrice: 50})
	line := po.Lines[0]

	// the payables cascade writes CERRADA on the header once every invoice is settled
	settled := f.repo.pos[po.ID]
	settled.Status = POStatusClosed
	f.repo.pos[po.ID] = settled

	res, err := f.svc.Receive(ctx, ReceiveInput{POID: po.ID, Items: []ReceiveItem{{LineID: line.ID, Qty: 4}}})
	require.NoError(t, err)
	require.False(t, res.StockPending)
	require.Equal(t, POStatusClosed, res.Order.Status)
	require.Equal(t, POStatusClosed, f.repo.pos[po.ID].Status)

	_, err = f.svc.Receive(ctx, ReceiveInput{POID: po.ID, Items: []ReceiveItem{{LineID: line.ID, Qty: 6}}})
	require.NoError(t, err)
	require.Equal(t, 10.0, f.repo.lines[line.ID].QtyReceived)

	var posted float64
	for _, in := range f.inventory.posted {
		posted += in.Qty
	}
	require.Equal(t, 10.0, posted)

	_, err = f.svc.Receive(ctx, ReceiveInput{POID: po.ID, Items: []ReceiveItem{{LineID: line.ID, Qty: 1}}})
	require.ErrorIs(t, err, ErrInvalidReceiveQty)
}

func TestListPurchaseOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	for i := 0; i < 3; i++ {
		_, err := f.svc.CreatePurchaseOrder(ctx, sampleInput(POLineInput{RepuestoID: 100, Qty: 1, UnitPrice: 10}))
		require.NoError(t, err)
	}
	orders, total, err := f.svc.ListPurchaseOrders(ctx, ListFilters{Status: POStatusDraft, Page: shared.PageRequest{Page: 1, PerPage: 2}})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, orders, 2)

	_, _, err = f.svc.ListPurchaseOrders(ctx, ListFilters{Status: "X"})
	require.ErrorIs(t, err, ErrInvalidStatus)
}
