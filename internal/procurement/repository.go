package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flota-erp/flota-erp/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	NextOrderNumber(ctx context.Context, year int) (int64, error)
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOLine(ctx context.Context, line POLine) (int64, error)
	LockPO(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPOLines(ctx context.Context, poID int64) ([]POLine, error)
	UpdatePOStatus(ctx context.Context, id int64, status POStatus, at time.Time) error
	UpdateLineProgress(ctx context.Context, line POLine) error
	InsertReceipt(ctx context.Context, receipt Receipt) (int64, error)
	InsertReceiptLine(ctx context.Context, line ReceiptLine) (int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

var _ RepositoryPort = (*Repository)(nil)
var _ TxRepository = (*txRepo)(nil)

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const poColumns = `id, numero, proveedor_id, fecha_orden, fecha_entrega_estimada, deposito_entrega_id, moneda, tipo_cambio,
       estado, subtotal, descuento_total, iva_total, total, comprador, notas, created_at, updated_at`

const poLineColumns = `id, orden_compra_id, repuesto_id, descripcion, unidad, cantidad_pedida, cantidad_recibida,
       cantidad_cancelada, precio_unitario, descuento_pct, alicuota_iva, total_linea, estado, deposito_id`

// GetPO returns the order header and lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	po, err := scanPO(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM ordenes_compra WHERE id=$1`, id))
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	lines, err := listPOLines(ctx, r.pool, id)
	return po, lines, err
}

// ListPOs returns a page of orders newest first and the total count.
func (r *Repository) ListPOs(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error) {
	where := []string{"1=1"}
	args := []any{}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filters.Status != "" {
		add("estado=$%d", string(filters.Status))
	}
	if filters.SupplierID > 0 {
		add("proveedor_id=$%d", filters.SupplierID)
	}
	if !filters.From.IsZero() {
		add("fecha_orden >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("fecha_orden <= $%d", filters.To)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ordenes_compra WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filters.Page.Limit(), filters.Page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM ordenes_compra WHERE %s ORDER BY fecha_orden DESC, id DESC LIMIT $%d OFFSET $%d`,
		poColumns, cond, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, po)
	}
	return out, total, rows.Err()
}

// SupplierExists checks the read-only supplier catalog.
func (r *Repository) SupplierExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM proveedores WHERE id=$1)`, id).Scan(&exists)
	return exists, err
}

// DepositExists checks the read-only deposit catalog.
func (r *Repository) DepositExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM depositos WHERE id=$1)`, id).Scan(&exists)
	return exists, err
}

// GetReceipt loads a receipt with its lines.
func (r *Repository) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	var rc Receipt
	var remito, key *string
	var actor *int64
	err := r.pool.QueryRow(ctx, `SELECT id, orden_compra_id, remito, idempotency_key, fecha, usuario_id, stock_registrado
FROM recepciones WHERE id=$1`, id).Scan(&rc.ID, &rc.POID, &remito, &key, &rc.ReceivedAt, &actor, &rc.StockPosted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, ErrReceiptNotFound
		}
		return Receipt{}, err
	}
	if remito != nil {
		rc.Remito = *remito
	}
	if key != nil {
		rc.IdempotencyKey = *key
	}
	if actor != nil {
		rc.ActorID = *actor
	}
	rows, err := r.pool.Query(ctx, `SELECT id, recepcion_id, item_id, repuesto_id, deposito_id, cantidad, COALESCE(remito, '')
FROM recepcion_items WHERE recepcion_id=$1 ORDER BY id`, id)
	if err != nil {
		return Receipt{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l ReceiptLine
		if err := rows.Scan(&l.ID, &l.ReceiptID, &l.POLineID, &l.RepuestoID, &l.DepositID, &l.Qty, &l.Remito); err != nil {
			return Receipt{}, err
		}
		rc.Lines = append(rc.Lines, l)
	}
	return rc, rows.Err()
}

// MarkReceiptPosted flags the receipt stock as posted.
func (r *Repository) MarkReceiptPosted(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE recepciones SET stock_registrado=TRUE WHERE id=$1`, id)
	return err
}

// ListUnpostedReceipts returns receipts still waiting for their stock posting.
func (r *Repository) ListUnpostedReceipts(ctx context.Context, olderThan time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM recepciones WHERE NOT stock_registrado AND fecha <= $1 ORDER BY id LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepo) NextOrderNumber(ctx context.Context, year int) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO secuencias_oc (anio, ultimo) VALUES ($1, 1)
ON CONFLICT (anio) DO UPDATE SET ultimo = secuencias_oc.ultimo + 1
RETURNING ultimo`, year).Scan(&seq)
	return seq, err
}

func (r *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO ordenes_compra (numero, proveedor_id, fecha_orden, fecha_entrega_estimada,
       deposito_entrega_id, moneda, tipo_cambio, estado, subtotal, descuento_total, iva_total, total, comprador, notas,
       created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16) RETURNING id`,
		po.Number, po.SupplierID, po.OrderDate, po.ExpectedDate, db.NullableID(po.DeliveryDepositID), po.Currency,
		po.ExchangeRate, string(po.Status), po.Subtotal, po.DiscountTotal, po.TaxTotal, po.Total,
		po.Buyer, po.Notes, po.CreatedAt, po.UpdatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) InsertPOLine(ctx context.Context, line POLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO orden_compra_items (orden_compra_id, repuesto_id, descripcion, unidad,
       cantidad_pedida, cantidad_recibida, cantidad_cancelada, precio_unitario, descuento_pct, alicuota_iva, total_linea,
       estado, deposito_id)
VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7, $8, $9, $10, $11) RETURNING id`,
		line.POID, line.RepuestoID, line.Description, line.Unit, line.QtyOrdered, line.UnitPrice,
		line.DiscountPct, line.TaxRate, line.LineTotal, string(line.Status), db.NullableID(line.DepositID)).Scan(&id)
	return id, err
}

func (r *txRepo) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPO(r.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM ordenes_compra WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepo) ListPOLines(ctx context.Context, poID int64) ([]POLine, error) {
	return listPOLines(ctx, r.tx, poID)
}

func (r *txRepo) UpdatePOStatus(ctx context.Context, id int64, status POStatus, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE ordenes_compra SET estado=$2, updated_at=$3 WHERE id=$1`, id, string(status), at)
	return err
}

func (r *txRepo) UpdateLineProgress(ctx context.Context, line POLine) error {
	_, err := r.tx.Exec(ctx, `UPDATE orden_compra_items SET cantidad_recibida=$2, cantidad_cancelada=$3, estado=$4 WHERE id=$1`,
		line.ID, line.QtyReceived, line.QtyCancelled, string(line.Status))
	return err
}

func (r *txRepo) InsertReceipt(ctx context.Context, rc Receipt) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO recepciones (orden_compra_id, remito, idempotency_key, fecha, usuario_id, stock_registrado)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, FALSE) RETURNING id`,
		rc.POID, rc.Remito, rc.IdempotencyKey, rc.ReceivedAt, db.NullableID(rc.ActorID)).Scan(&id)
	return id, err
}

func (r *txRepo) InsertReceiptLine(ctx context.Context, l ReceiptLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO recepcion_items (recepcion_id, item_id, repuesto_id, deposito_id, cantidad, remito)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')) RETURNING id`,
		l.ReceiptID, l.POLineID, l.RepuestoID, l.DepositID, l.Qty, l.Remito).Scan(&id)
	return id, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listPOLines(ctx context.Context, q querier, poID int64) ([]POLine, error) {
	rows, err := q.Query(ctx, `SELECT `+poLineColumns+` FROM orden_compra_items WHERE orden_compra_id=$1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var l POLine
		var status string
		var deposit *int64
		if err := rows.Scan(&l.ID, &l.POID, &l.RepuestoID, &l.Description, &l.Unit, &l.QtyOrdered, &l.QtyReceived,
			&l.QtyCancelled, &l.UnitPrice, &l.DiscountPct, &l.TaxRate, &l.LineTotal, &status, &deposit); err != nil {
			return nil, err
		}
		l.Status = LineStatus(status)
		if deposit != nil {
			l.DepositID = *deposit
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	var deposit *int64
	var buyer, notes *string
	if err := row.Scan(&po.ID, &po.Number, &po.SupplierID, &po.OrderDate, &po.ExpectedDate, &deposit, &po.Currency,
		&po.ExchangeRate, &status, &po.Subtotal, &po.DiscountTotal, &po.TaxTotal, &po.Total, &buyer, &notes,
		&po.CreatedAt, &po.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrPONotFound
		}
		return PurchaseOrder{}, err
	}
	po.Status = POStatus(status)
	if deposit != nil {
		po.DeliveryDepositID = *deposit
	}
	if buyer != nil {
		po.Buyer = *buyer
	}
	if notes != nil {
		po.Notes = *notes
	}
	return po, nil
}
