package procurement

import (
	"context"
	"sort"
	"time"

	"github.com/flota-erp/flota-erp/internal/shared"
)

type memoryRepo struct {
	suppliers    map[int64]bool
	deposits     map[int64]bool
	pos          map[int64]PurchaseOrder
	lines        map[int64]POLine
	receipts     map[int64]Receipt
	sequences    map[int]int64
	nextID       int64
	failPostMark bool
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		suppliers: map[int64]bool{1: true},
		deposits:  map[int64]bool{1: true, 2: true},
		pos:       make(map[int64]PurchaseOrder),
		lines:     make(map[int64]POLine),
		receipts:  make(map[int64]Receipt),
		sequences: make(map[int]int64),
	}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := r.clone()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		*r = *snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) clone() *memoryRepo {
	c := *r
	c.pos = make(map[int64]PurchaseOrder, len(r.pos))
	c.lines = make(map[int64]POLine, len(r.lines))
	c.receipts = make(map[int64]Receipt, len(r.receipts))
	c.sequences = make(map[int]int64, len(r.sequences))
	for k, v := range r.pos {
		c.pos[k] = v
	}
	for k, v := range r.lines {
		c.lines[k] = v
	}
	for k, v := range r.receipts {
		c.receipts[k] = v
	}
	for k, v := range r.sequences {
		c.sequences[k] = v
	}
	return &c
}

func (r *memoryRepo) linesOf(poID int64) []POLine {
	var out []POLine
	for _, l := range r.lines {
		if l.POID == poID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryRepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	po, ok := r.pos[id]
	if !ok {
		return PurchaseOrder{}, nil, ErrPONotFound
	}
	return po, r.linesOf(id), nil
}

func (r *memoryRepo) ListPOs(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error) {
	var out []PurchaseOrder
	for _, po := range r.pos {
		if filters.Status != "" && po.Status != filters.Status {
			continue
		}
		if filters.SupplierID > 0 && po.SupplierID != filters.SupplierID {
			continue
		}
		out = append(out, po)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	start := filters.Page.Offset()
	if start > total {
		start = total
	}
	end := start + filters.Page.Limit()
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

func (r *memoryRepo) SupplierExists(ctx context.Context, id int64) (bool, error) {
	return r.suppliers[id], nil
}

func (r *memoryRepo) DepositExists(ctx context.Context, id int64) (bool, error) {
	return r.deposits[id], nil
}

func (r *memoryRepo) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	rc, ok := r.receipts[id]
	if !ok {
		return Receipt{}, ErrReceiptNotFound
	}
	return rc, nil
}

func (r *memoryRepo) MarkReceiptPosted(ctx context.Context, id int64) error {
	rc := r.receipts[id]
	rc.StockPosted = true
	r.receipts[id] = rc
	return nil
}

func (r *memoryRepo) ListUnpostedReceipts(ctx context.Context, olderThan time.Time, limit int) ([]int64, error) {
	var ids []int64
	for id, rc := range r.receipts {
		if !rc.StockPosted && !rc.ReceivedAt.After(olderThan) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (tx *memoryTx) NextOrderNumber(ctx context.Context, year int) (int64, error) {
	tx.repo.sequences[year]++
	return tx.repo.sequences[year], nil
}

func (tx *memoryTx) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	po.ID = tx.repo.id()
	po.Lines = nil
	tx.repo.pos[po.ID] = po
	return po.ID, nil
}

func (tx *memoryTx) InsertPOLine(ctx context.Context, line POLine) (int64, error) {
	line.ID = tx.repo.id()
	tx.repo.lines[line.ID] = line
	return line.ID, nil
}

func (tx *memoryTx) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := tx.repo.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrPONotFound
	}
	return po, nil
}

func (tx *memoryTx) ListPOLines(ctx context.Context, poID int64) ([]POLine, error) {
	return tx.repo.linesOf(poID), nil
}

func (tx *memoryTx) UpdatePOStatus(ctx context.Context, id int64, status POStatus, at time.Time) error {
	po := tx.repo.pos[id]
	po.Status = status
	po.UpdatedAt = at
	tx.repo.pos[id] = po
	return nil
}

func (tx *memoryTx) UpdateLineProgress(ctx context.Context, line POLine) error {
	stored := tx.repo.lines[line.ID]
	stored.QtyReceived = line.QtyReceived
	stored.QtyCancelled = line.QtyCancelled
	stored.Status = line.Status
	tx.repo.lines[line.ID] = stored
	return nil
}

func (tx *memoryTx) InsertReceipt(ctx context.Context, rc Receipt) (int64, error) {
	rc.ID = tx.repo.id()
	rc.Lines = nil
	tx.repo.receipts[rc.ID] = rc
	return rc.ID, nil
}

func (tx *memoryTx) InsertReceiptLine(ctx context.Context, line ReceiptLine) (int64, error) {
	line.ID = tx.repo.id()
	rc := tx.repo.receipts[line.ReceiptID]
	rc.Lines = append(rc.Lines, line)
	tx.repo.receipts[line.ReceiptID] = rc
	return line.ID, nil
}

type memoryIdempotency struct {
	keys map[string]string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]string)}
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}
