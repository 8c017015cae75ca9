package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/flota-erp/flota-erp/internal/shared"
)

type memoryRepo struct {
	deposits      map[int64]bool
	items         map[int64]StockItem
	transfers     map[int64]Transfer
	transferLines map[int64]TransferLine
	movements     map[int64]Movement
	movementLines map[int64]MovementLine
	cards         []StockCardEntry
	keys          map[string]bool
	nextID        int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(deposits ...int64) *memoryRepo {
	r := &memoryRepo{
		deposits:      make(map[int64]bool),
		items:         make(map[int64]StockItem),
		transfers:     make(map[int64]Transfer),
		transferLines: make(map[int64]TransferLine),
		movements:     make(map[int64]Movement),
		movementLines: make(map[int64]MovementLine),
		keys:          make(map[string]bool),
	}
	for _, d := range deposits {
		r.deposits[d] = true
	}
	return r
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) seedItem(depositID, repuestoID int64, qty float64) StockItem {
	it := StockItem{ID: r.id(), DepositID: depositID, RepuestoID: repuestoID, Qty: qty}
	r.items[it.ID] = it
	return it
}

func (r *memoryRepo) find(depositID, repuestoID int64) (StockItem, bool) {
	for _, it := range r.items {
		if it.DepositID == depositID && it.RepuestoID == repuestoID {
			return it, true
		}
	}
	return StockItem{}, false
}

// WithTx runs fn against a snapshot and only keeps the changes when fn succeeds.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := r.clone()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		*r = *snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) clone() *memoryRepo {
	c := &memoryRepo{
		deposits:      r.deposits,
		items:         make(map[int64]StockItem, len(r.items)),
		transfers:     make(map[int64]Transfer, len(r.transfers)),
		transferLines: make(map[int64]TransferLine, len(r.transferLines)),
		movements:     make(map[int64]Movement, len(r.movements)),
		movementLines: make(map[int64]MovementLine, len(r.movementLines)),
		cards:         append([]StockCardEntry(nil), r.cards...),
		keys:          make(map[string]bool, len(r.keys)),
		nextID:        r.nextID,
	}
	for k, v := range r.items {
		c.items[k] = v
	}
	for k, v := range r.transfers {
		c.transfers[k] = v
	}
	for k, v := range r.transferLines {
		c.transferLines[k] = v
	}
	for k, v := range r.movements {
		c.movements[k] = v
	}
	for k, v := range r.movementLines {
		c.movementLines[k] = v
	}
	for k, v := range r.keys {
		c.keys[k] = v
	}
	return c
}

func (r *memoryRepo) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	t, ok := r.transfers[id]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	t.Lines, _ = (&memoryTx{repo: r}).ListTransferLines(ctx, id)
	return t, nil
}

func (r *memoryRepo) GetMovement(ctx context.Context, id int64) (Movement, error) {
	m, ok := r.movements[id]
	if !ok {
		return Movement{}, ErrMovementNotFound
	}
	m.Lines, _ = (&memoryTx{repo: r}).ListMovementLines(ctx, id)
	return m, nil
}

func (r *memoryRepo) DepositExists(ctx context.Context, id int64) (bool, error) {
	return r.deposits[id], nil
}

func (r *memoryRepo) ListStock(ctx context.Context, depositID int64) ([]StockItem, error) {
	var out []StockItem
	for _, it := range r.items {
		if it.DepositID == depositID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepuestoID < out[j].RepuestoID })
	return out, nil
}

func (r *memoryRepo) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	var out []StockCardEntry
	for _, e := range r.cards {
		if e.StockItemID == filter.StockItemID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (tx *memoryTx) CreateTransfer(ctx context.Context, t Transfer) (int64, error) {
	t.ID = tx.repo.id()
	tx.repo.transfers[t.ID] = t
	return t.ID, nil
}

func (tx *memoryTx) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	t, ok := tx.repo.transfers[id]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	return t, nil
}

func (tx *memoryTx) ListTransferLines(ctx context.Context, transferID int64) ([]TransferLine, error) {
	var out []TransferLine
	for _, l := range tx.repo.transferLines {
		if l.TransferID == transferID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) InsertTransferLine(ctx context.Context, line TransferLine) (int64, error) {
	line.ID = tx.repo.id()
	tx.repo.transferLines[line.ID] = line
	return line.ID, nil
}

func (tx *memoryTx) DeleteTransferLine(ctx context.Context, transferID, lineID int64) (bool, error) {
	l, ok := tx.repo.transferLines[lineID]
	if !ok || l.TransferID != transferID {
		return false, nil
	}
	delete(tx.repo.transferLines, lineID)
	return true, nil
}

func (tx *memoryTx) MarkTransferConfirmed(ctx context.Context, id int64, at time.Time) error {
	t := tx.repo.transfers[id]
	t.Status = TransferConfirmed
	t.ConfirmedAt = &at
	tx.repo.transfers[id] = t
	return nil
}

func (tx *memoryTx) CreateMovement(ctx context.Context, m Movement) (int64, error) {
	m.ID = tx.repo.id()
	tx.repo.movements[m.ID] = m
	return m.ID, nil
}

func (tx *memoryTx) GetMovementForUpdate(ctx context.Context, id int64) (Movement, error) {
	m, ok := tx.repo.movements[id]
	if !ok {
		return Movement{}, ErrMovementNotFound
	}
	return m, nil
}

func (tx *memoryTx) ListMovementLines(ctx context.Context, movementID int64) ([]MovementLine, error) {
	var out []MovementLine
	for _, l := range tx.repo.movementLines {
		if l.MovementID == movementID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) InsertMovementLine(ctx context.Context, line MovementLine) (int64, error) {
	line.ID = tx.repo.id()
	tx.repo.movementLines[line.ID] = line
	return line.ID, nil
}

func (tx *memoryTx) DeleteMovementLine(ctx context.Context, movementID, lineID int64) (bool, error) {
	l, ok := tx.repo.movementLines[lineID]
	if !ok || l.MovementID != movementID {
		return false, nil
	}
	delete(tx.repo.movementLines, lineID)
	return true, nil
}

func (tx *memoryTx) MarkMovementConfirmed(ctx context.Context, id int64, at time.Time) error {
	m := tx.repo.movements[id]
	m.Confirmed = true
	m.ConfirmedAt = &at
	tx.repo.movements[id] = m
	return nil
}

func (tx *memoryTx) GetStockItem(ctx context.Context, id int64) (StockItem, error) {
	it, ok := tx.repo.items[id]
	if !ok {
		return StockItem{}, ErrStockItemNotFound
	}
	return it, nil
}

func (tx *memoryTx) GetStockItemForUpdate(ctx context.Context, id int64) (StockItem, error) {
	return tx.GetStockItem(ctx, id)
}

func (tx *memoryTx) LockOrCreateStockItem(ctx context.Context, depositID, repuestoID int64) (StockItem, error) {
	if it, ok := tx.repo.find(depositID, repuestoID); ok {
		return it, nil
	}
	return tx.repo.seedItem(depositID, repuestoID, 0), nil
}

func (tx *memoryTx) UpdateStockQty(ctx context.Context, id int64, qty float64, at time.Time) error {
	it := tx.repo.items[id]
	it.Qty = qty
	it.UpdatedAt = at
	tx.repo.items[id] = it
	return nil
}

func (tx *memoryTx) InsertCardEntry(ctx context.Context, entry StockCardEntry) (int64, error) {
	entry.ID = tx.repo.id()
	tx.repo.cards = append(tx.repo.cards, entry)
	return entry.ID, nil
}

func (tx *memoryTx) ClaimPostingKey(ctx context.Context, key string) error {
	if tx.repo.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	tx.repo.keys[key] = true
	return nil
}
