package ap

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/flota-erp/flota-erp/internal/procurement"
)

type memoryRepo struct {
	suppliers map[int64]bool
	poStatus  map[int64]procurement.POStatus
	invoices  map[int64]Invoice
	lines     map[int64]InvoiceLine
	payments  []Payment
	nextID    int64
	failClose bool
	// conflicts makes the next WithTx calls roll back after fn and run it
	// again, the way a 40001 at commit is retried.
	conflicts int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		suppliers: map[int64]bool{1: true, 2: true},
		poStatus:  make(map[int64]procurement.POStatus),
		invoices:  make(map[int64]Invoice),
		lines:     make(map[int64]InvoiceLine),
	}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	for {
		snapshot := r.clone()
		if err := fn(ctx, &memoryTx{repo: r}); err != nil {
			*r = *snapshot
			return err
		}
		if r.conflicts == 0 {
			return nil
		}
		conflicts := r.conflicts - 1
		*r = *snapshot
		r.conflicts = conflicts
	}
}

func (r *memoryRepo) clone() *memoryRepo {
	c := *r
	c.poStatus = make(map[int64]procurement.POStatus, len(r.poStatus))
	c.invoices = make(map[int64]Invoice, len(r.invoices))
	c.lines = make(map[int64]InvoiceLine, len(r.lines))
	c.payments = append([]Payment(nil), r.payments...)
	for k, v := range r.poStatus {
		c.poStatus[k] = v
	}
	for k, v := range r.invoices {
		c.invoices[k] = v
	}
	for k, v := range r.lines {
		c.lines[k] = v
	}
	return &c
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListInvoiceLines(ctx context.Context, invoiceID int64) ([]InvoiceLine, error) {
	var out []InvoiceLine
	for _, l := range r.lines {
		if l.InvoiceID == invoiceID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListInvoices(ctx context.Context, filters ListFilters) ([]Invoice, int, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if filters.Status != "" && inv.Status != filters.Status {
			continue
		}
		if filters.SupplierID > 0 && inv.SupplierID != filters.SupplierID {
			continue
		}
		if filters.POID > 0 && inv.POID != filters.POID {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memoryRepo) SupplierExists(ctx context.Context, id int64) (bool, error) {
	return r.suppliers[id], nil
}

func (r *memoryRepo) ListOpenBalances(ctx context.Context) ([]OpenBalance, error) {
	var out []OpenBalance
	for _, inv := range r.invoices {
		if inv.Status.Payable() && inv.Balance > 0 {
			out = append(out, OpenBalance{InvoiceID: inv.ID, DueDate: inv.DueDate, Balance: inv.Balance})
		}
	}
	return out, nil
}

func (tx *memoryTx) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	inv.ID = tx.repo.id()
	inv.Lines = nil
	tx.repo.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (tx *memoryTx) InsertInvoiceLine(ctx context.Context, line InvoiceLine) (int64, error) {
	line.ID = tx.repo.id()
	tx.repo.lines[line.ID] = line
	return line.ID, nil
}

func (tx *memoryTx) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return tx.repo.GetInvoice(ctx, id)
}

func (tx *memoryTx) UpdateBalance(ctx context.Context, id int64, balance float64, status InvoiceStatus, at time.Time) error {
	inv := tx.repo.invoices[id]
	inv.Balance = balance
	inv.Status = status
	inv.UpdatedAt = at
	tx.repo.invoices[id] = inv
	return nil
}

func (tx *memoryTx) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	p.ID = tx.repo.id()
	tx.repo.payments = append(tx.repo.payments, p)
	return p.ID, nil
}

func (tx *memoryTx) VoidInvoice(ctx context.Context, id int64, reason string, at time.Time) error {
	inv := tx.repo.invoices[id]
	inv.Status = InvoiceVoid
	inv.Balance = 0
	inv.VoidReason = reason
	inv.UpdatedAt = at
	tx.repo.invoices[id] = inv
	return nil
}

func (tx *memoryTx) LockPOStatus(ctx context.Context, poID int64) (procurement.POStatus, error) {
	st, ok := tx.repo.poStatus[poID]
	if !ok {
		return "", ErrPONotFound
	}
	return st, nil
}

func (tx *memoryTx) LockPOBalances(ctx context.Context, poID int64) ([]float64, error) {
	var balances []float64
	for _, inv := range tx.repo.invoices {
		if inv.POID == poID {
			balances = append(balances, inv.Balance)
		}
	}
	return balances, nil
}

func (tx *memoryTx) ClosePO(ctx context.Context, poID int64, at time.Time) error {
	if tx.repo.failClose {
		return errors.New("po row unavailable")
	}
	tx.repo.poStatus[poID] = procurement.POStatusClosed
	return nil
}

type memoryOrders struct {
	orders map[int64]procurement.PurchaseOrder
}

func (m *memoryOrders) GetPurchaseOrder(ctx context.Context, id int64) (procurement.PurchaseOrder, error) {
	po, ok := m.orders[id]
	if !ok {
		return procurement.PurchaseOrder{}, procurement.ErrPONotFound
	}
	return po, nil
}
