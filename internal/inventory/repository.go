package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flota-erp/flota-erp/internal/platform/db"
	"github.com/flota-erp/flota-erp/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	CreateTransfer(ctx context.Context, t Transfer) (int64, error)
	GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error)
	ListTransferLines(ctx context.Context, transferID int64) ([]TransferLine, error)
	InsertTransferLine(ctx context.Context, line TransferLine) (int64, error)
	DeleteTransferLine(ctx context.Context, transferID, lineID int64) (bool, error)
	MarkTransferConfirmed(ctx context.Context, id int64, at time.Time) error

	CreateMovement(ctx context.Context, m Movement) (int64, error)
	GetMovementForUpdate(ctx context.Context, id int64) (Movement, error)
	ListMovementLines(ctx context.Context, movementID int64) ([]MovementLine, error)
	InsertMovementLine(ctx context.Context, line MovementLine) (int64, error)
	DeleteMovementLine(ctx context.Context, movementID, lineID int64) (bool, error)
	MarkMovementConfirmed(ctx context.Context, id int64, at time.Time) error

	GetStockItem(ctx context.Context, id int64) (StockItem, error)
	GetStockItemForUpdate(ctx context.Context, id int64) (StockItem, error)
	LockOrCreateStockItem(ctx context.Context, depositID, repuestoID int64) (StockItem, error)
	UpdateStockQty(ctx context.Context, id int64, qty float64, at time.Time) error
	InsertCardEntry(ctx context.Context, entry StockCardEntry) (int64, error)
	ClaimPostingKey(ctx context.Context, key string) error
}

type txRepo struct {
	tx pgx.Tx
}

var _ RepositoryPort = (*Repository)(nil)
var _ TxRepository = (*txRepo)(nil)

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const (
	transferColumns = `id, deposito_origen_id, deposito_destino_id, estado, usuario_id, created_at, confirmado_at`
	movementColumns = `id, deposito_id, tipo_comprobante, tipo, confirmado, fecha_registro, confirmado_at, usuario_id`
	stockColumns    = `id, deposito_id, repuesto_id, stock_actual, updated_at`
)

// GetTransfer loads the transfer and its lines.
func (r *Repository) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE id=$1`, id))
	if err != nil {
		return Transfer{}, err
	}
	t.Lines, err = listTransferLines(ctx, r.pool, id)
	return t, err
}

// GetMovement loads the movement and its lines.
func (r *Repository) GetMovement(ctx context.Context, id int64) (Movement, error) {
	m, err := scanMovement(r.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE id=$1`, id))
	if err != nil {
		return Movement{}, err
	}
	m.Lines, err = listMovementLines(ctx, r.pool, id)
	return m, err
}

// DepositExists checks the read-only deposit catalog.
func (r *Repository) DepositExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM depositos WHERE id=$1)`, id).Scan(&exists)
	return exists, err
}

// ListStock returns the stock items of a deposit ordered by repuesto.
func (r *Repository) ListStock(ctx context.Context, depositID int64) ([]StockItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+stockColumns+` FROM stock_items WHERE deposito_id=$1 ORDER BY repuesto_id`, depositID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []StockItem
	for rows.Next() {
		var it StockItem
		if err := rows.Scan(&it.ID, &it.DepositID, &it.RepuestoID, &it.Qty, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetStockCard lists kardex entries in posting order.
func (r *Repository) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	var from, to any
	if !filter.From.IsZero() {
		from = filter.From
	}
	if !filter.To.IsZero() {
		to = filter.To
	}
	rows, err := r.pool.Query(ctx, `SELECT id, stock_item_id, deposito_id, repuesto_id, ref_modulo, ref_id,
       cantidad_entrada, cantidad_salida, cantidad_anterior, cantidad_nueva, fecha, nota
FROM stock_card_entries
WHERE stock_item_id=$1
  AND ($2::timestamptz IS NULL OR fecha >= $2)
  AND ($3::timestamptz IS NULL OR fecha <= $3)
ORDER BY fecha, id
LIMIT $4`, filter.StockItemID, from, to, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []StockCardEntry
	for rows.Next() {
		var e StockCardEntry
		if err := rows.Scan(&e.ID, &e.StockItemID, &e.DepositID, &e.RepuestoID, &e.RefModule, &e.RefID,
			&e.QtyIn, &e.QtyOut, &e.QtyBefore, &e.QtyAfter, &e.PostedAt, &e.Note); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepo) CreateTransfer(ctx context.Context, t Transfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transfers (deposito_origen_id, deposito_destino_id, estado, usuario_id, created_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, t.OriginDepositID, t.DestinationDepositID, string(t.Status), db.NullableID(t.UserID), t.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	return scanTransfer(r.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepo) ListTransferLines(ctx context.Context, transferID int64) ([]TransferLine, error) {
	return listTransferLines(ctx, r.tx, transferID)
}

func (r *txRepo) InsertTransferLine(ctx context.Context, line TransferLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transfer_lines (transfer_id, stock_item_id, cantidad) VALUES ($1, $2, $3) RETURNING id`,
		line.TransferID, line.StockItemID, line.Qty).Scan(&id)
	return id, err
}

func (r *txRepo) DeleteTransferLine(ctx context.Context, transferID, lineID int64) (bool, error) {
	tag, err := r.tx.Exec(ctx, `DELETE FROM stock_transfer_lines WHERE id=$1 AND transfer_id=$2`, lineID, transferID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *txRepo) MarkTransferConfirmed(ctx context.Context, id int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_transfers SET estado=$2, confirmado_at=$3 WHERE id=$1`, id, string(TransferConfirmed), at)
	return err
}

func (r *txRepo) CreateMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (deposito_id, tipo_comprobante, tipo, confirmado, fecha_registro, usuario_id)
VALUES ($1, $2, $3, false, $4, $5) RETURNING id`, m.DepositID, m.VoucherType, string(m.Type), m.RegisteredAt, db.NullableID(m.UserID)).Scan(&id)
	return id, err
}

func (r *txRepo) GetMovementForUpdate(ctx context.Context, id int64) (Movement, error) {
	return scanMovement(r.tx.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepo) ListMovementLines(ctx context.Context, movementID int64) ([]MovementLine, error) {
	return listMovementLines(ctx, r.tx, movementID)
}

func (r *txRepo) InsertMovementLine(ctx context.Context, line MovementLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movement_lines (movement_id, stock_item_id, cantidad) VALUES ($1, $2, $3) RETURNING id`,
		line.MovementID, line.StockItemID, line.Qty).Scan(&id)
	return id, err
}

func (r *txRepo) DeleteMovementLine(ctx context.Context, movementID, lineID int64) (bool, error) {
	tag, err := r.tx.Exec(ctx, `DELETE FROM stock_movement_lines WHERE id=$1 AND movement_id=$2`, lineID, movementID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *txRepo) MarkMovementConfirmed(ctx context.Context, id int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_movements SET confirmado=true, confirmado_at=$2 WHERE id=$1`, id, at)
	return err
}

func (r *txRepo) GetStockItem(ctx context.Context, id int64) (StockItem, error) {
	return scanStockItem(r.tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM stock_items WHERE id=$1`, id))
}

func (r *txRepo) GetStockItemForUpdate(ctx context.Context, id int64) (StockItem, error) {
	return scanStockItem(r.tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM stock_items WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepo) LockOrCreateStockItem(ctx context.Context, depositID, repuestoID int64) (StockItem, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO stock_items (deposito_id, repuesto_id, stock_actual, updated_at)
VALUES ($1, $2, 0, NOW()) ON CONFLICT (deposito_id, repuesto_id) DO NOTHING`, depositID, repuestoID); err != nil {
		return StockItem{}, err
	}
	return scanStockItem(r.tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM stock_items WHERE deposito_id=$1 AND repuesto_id=$2 FOR UPDATE`, depositID, repuestoID))
}

func (r *txRepo) UpdateStockQty(ctx context.Context, id int64, qty float64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_items SET stock_actual=$2, updated_at=$3 WHERE id=$1`, id, qty, at)
	return err
}

func (r *txRepo) InsertCardEntry(ctx context.Context, e StockCardEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_card_entries (stock_item_id, deposito_id, repuesto_id, ref_modulo, ref_id,
       cantidad_entrada, cantidad_salida, cantidad_anterior, cantidad_nueva, fecha, nota)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		e.StockItemID, e.DepositID, e.RepuestoID, e.RefModule, e.RefID,
		e.QtyIn, e.QtyOut, e.QtyBefore, e.QtyAfter, e.PostedAt, e.Note).Scan(&id)
	return id, err
}

func (r *txRepo) ClaimPostingKey(ctx context.Context, key string) error {
	return shared.InsertIdempotencyKey(ctx, r.tx, key, shared.IdempotencyStock)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listTransferLines(ctx context.Context, q querier, transferID int64) ([]TransferLine, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, stock_item_id, cantidad FROM stock_transfer_lines WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []TransferLine
	for rows.Next() {
		var l TransferLine
		if err := rows.Scan(&l.ID, &l.TransferID, &l.StockItemID, &l.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func listMovementLines(ctx context.Context, q querier, movementID int64) ([]MovementLine, error) {
	rows, err := q.Query(ctx, `SELECT id, movement_id, stock_item_id, cantidad FROM stock_movement_lines WHERE movement_id=$1 ORDER BY id`, movementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []MovementLine
	for rows.Next() {
		var l MovementLine
		if err := rows.Scan(&l.ID, &l.MovementID, &l.StockItemID, &l.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	var status string
	var userID *int64
	if err := row.Scan(&t.ID, &t.OriginDepositID, &t.DestinationDepositID, &status, &userID, &t.CreatedAt, &t.ConfirmedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrTransferNotFound
		}
		return Transfer{}, err
	}
	t.Status = TransferStatus(status)
	if userID != nil {
		t.UserID = *userID
	}
	return t, nil
}

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	var kind string
	var userID *int64
	if err := row.Scan(&m.ID, &m.DepositID, &m.VoucherType, &kind, &m.Confirmed, &m.RegisteredAt, &m.ConfirmedAt, &userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrMovementNotFound
		}
		return Movement{}, err
	}
	m.Type = MovementType(kind)
	if userID != nil {
		m.UserID = *userID
	}
	return m, nil
}

func scanStockItem(row pgx.Row) (StockItem, error) {
	var it StockItem
	if err := row.Scan(&it.ID, &it.DepositID, &it.RepuestoID, &it.Qty, &it.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockItem{}, ErrStockItemNotFound
		}
		return StockItem{}, err
	}
	return it, nil
}
