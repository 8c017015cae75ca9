package ap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flota-erp/flota-erp/internal/platform/db"
	"github.com/flota-erp/flota-erp/internal/procurement"
)

// Repository persists supplier invoices and payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by Service.
type TxRepository interface {
	CreateInvoice(ctx context.Context, inv Invoice) (int64, error)
	InsertInvoiceLine(ctx context.Context, line InvoiceLine) (int64, error)
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	UpdateBalance(ctx context.Context, id int64, balance float64, status InvoiceStatus, at time.Time) error
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	VoidInvoice(ctx context.Context, id int64, reason string, at time.Time) error
	LockPOStatus(ctx context.Context, poID int64) (procurement.POStatus, error)
	LockPOBalances(ctx context.Context, poID int64) ([]float64, error)
	ClosePO(ctx context.Context, poID int64, at time.Time) error
}

type txRepo struct {
	tx pgx.Tx
}

var _ RepositoryPort = (*Repository)(nil)
var _ TxRepository = (*txRepo)(nil)

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const invoiceColumns = `id, proveedor_id, orden_compra_id, numero_factura, fecha_emision, fecha_vencimiento, moneda,
       tipo_cambio, neto, iva_21, iva_105, otros_impuestos, total, saldo, estado, notas, motivo_anulacion,
       created_at, updated_at`

// GetInvoice loads the invoice header.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM facturas_proveedor WHERE id=$1`, id))
}

// ListInvoiceLines returns the lines of an invoice.
func (r *Repository) ListInvoiceLines(ctx context.Context, invoiceID int64) ([]InvoiceLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, factura_id, item_oc_id, repuesto_id, descripcion, cantidad, precio_unitario,
       descuento_pct, alicuota_iva, subtotal, iva_monto, total_linea
FROM factura_proveedor_items WHERE factura_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		var poLine *int64
		if err := rows.Scan(&l.ID, &l.InvoiceID, &poLine, &l.RepuestoID, &l.Description, &l.Qty, &l.UnitPrice,
			&l.DiscountPct, &l.TaxRate, &l.Subtotal, &l.TaxAmount, &l.Total); err != nil {
			return nil, err
		}
		if poLine != nil {
			l.POLineID = *poLine
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// ListPayments returns the payments of an invoice in payment order.
func (r *Repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, factura_id, fecha_pago, medio_pago, monto, retencion_iva, retencion_ganancias,
       retencion_iibb, COALESCE(referencia, ''), COALESCE(notas, ''), lote_id, usuario_id, created_at
FROM pagos_proveedor WHERE factura_id=$1 ORDER BY fecha_pago, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var p Payment
		var method string
		var batch *uuid.UUID
		var actor *int64
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.PaidAt, &method, &p.Amount, &p.RetIVA, &p.RetGanancias,
			&p.RetIIBB, &p.Reference, &p.Notes, &batch, &actor, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Method = PaymentMethod(method)
		p.BatchID = batch
		if actor != nil {
			p.ActorID = *actor
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListInvoices returns a page of invoices ordered by due date.
func (r *Repository) ListInvoices(ctx context.Context, filters ListFilters) ([]Invoice, int, error) {
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
	if filters.POID > 0 {
		add("orden_compra_id=$%d", filters.POID)
	}
	if !filters.DueFrom.IsZero() {
		add("fecha_vencimiento >= $%d", filters.DueFrom)
	}
	if !filters.DueTo.IsZero() {
		add("fecha_vencimiento <= $%d", filters.DueTo)
	}
	cond := strings.Join(where, " AND ")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM facturas_proveedor WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filters.Page.Limit(), filters.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM facturas_proveedor WHERE %s
ORDER BY fecha_vencimiento, id LIMIT $%d OFFSET $%d`, invoiceColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

// SupplierExists checks the read-only supplier catalog.
func (r *Repository) SupplierExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM proveedores WHERE id=$1)`, id).Scan(&exists)
	return exists, err
}

// ListOpenBalances returns invoices that still owe money.
func (r *Repository) ListOpenBalances(ctx context.Context) ([]OpenBalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, fecha_vencimiento, saldo FROM facturas_proveedor
WHERE estado IN ('PENDIENTE', 'PARCIAL') AND saldo > 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OpenBalance
	for rows.Next() {
		var b OpenBalance
		if err := rows.Scan(&b.InvoiceID, &b.DueDate, &b.Balance); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *txRepo) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO facturas_proveedor (proveedor_id, orden_compra_id, numero_factura, fecha_emision,
       fecha_vencimiento, moneda, tipo_cambio, neto, iva_21, iva_105, otros_impuestos, total, saldo, estado, notas,
       created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17) RETURNING id`,
		inv.SupplierID, db.NullableID(inv.POID), inv.SupplierNumber, inv.IssueDate, inv.DueDate, inv.Currency,
		inv.ExchangeRate, inv.Net, inv.VAT21, inv.VAT105, inv.OtherTaxes, inv.Total, inv.Balance, string(inv.Status),
		inv.Notes, inv.CreatedAt, inv.UpdatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) InsertInvoiceLine(ctx context.Context, l InvoiceLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO factura_proveedor_items (factura_id, item_oc_id, repuesto_id, descripcion, cantidad,
       precio_unitario, descuento_pct, alicuota_iva, subtotal, iva_monto, total_linea)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		l.InvoiceID, db.NullableID(l.POLineID), l.RepuestoID, l.Description, l.Qty, l.UnitPrice, l.DiscountPct,
		l.TaxRate, l.Subtotal, l.TaxAmount, l.Total).Scan(&id)
	return id, err
}

func (r *txRepo) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM facturas_proveedor WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepo) UpdateBalance(ctx context.Context, id int64, balance float64, status InvoiceStatus, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE facturas_proveedor SET saldo=$2, estado=$3, updated_at=$4 WHERE id=$1`,
		id, balance, string(status), at)
	return err
}

func (r *txRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO pagos_proveedor (factura_id, fecha_pago, medio_pago, monto, retencion_iva,
       retencion_ganancias, retencion_iibb, referencia, notas, lote_id, usuario_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12) RETURNING id`,
		p.InvoiceID, p.PaidAt, string(p.Method), p.Amount, p.RetIVA, p.RetGanancias, p.RetIIBB, p.Reference,
		p.Notes, p.BatchID, db.NullableID(p.ActorID), p.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) VoidInvoice(ctx context.Context, id int64, reason string, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE facturas_proveedor SET estado='ANULADA', saldo=0, motivo_anulacion=NULLIF($2, ''),
       updated_at=$3 WHERE id=$1`, id, reason, at)
	return err
}

func (r *txRepo) LockPOStatus(ctx context.Context, poID int64) (procurement.POStatus, error) {
	var status string
	err := r.tx.QueryRow(ctx, `SELECT estado FROM ordenes_compra WHERE id=$1 FOR UPDATE`, poID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrPONotFound
	}
	return procurement.POStatus(status), err
}

// LockPOBalances locks every invoice of the order. Under repeatable read a
// sibling paid after the snapshot fails the lock with 40001.
func (r *txRepo) LockPOBalances(ctx context.Context, poID int64) ([]float64, error) {
	rows, err := r.tx.Query(ctx, `SELECT saldo::float8 FROM facturas_proveedor WHERE orden_compra_id=$1
ORDER BY id FOR UPDATE`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var balances []float64
	for rows.Next() {
		var saldo float64
		if err := rows.Scan(&saldo); err != nil {
			return nil, err
		}
		balances = append(balances, saldo)
	}
	return balances, rows.Err()
}

func (r *txRepo) ClosePO(ctx context.Context, poID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE ordenes_compra SET estado=$2, updated_at=$3 WHERE id=$1`,
		poID, string(procurement.POStatusClosed), at)
	return err
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var status string
	var poID *int64
	var notes, reason *string
	if err := row.Scan(&inv.ID, &inv.SupplierID, &poID, &inv.SupplierNumber, &inv.IssueDate, &inv.DueDate,
		&inv.Currency, &inv.ExchangeRate, &inv.Net, &inv.VAT21, &inv.VAT105, &inv.OtherTaxes, &inv.Total,
		&inv.Balance, &status, &notes, &reason, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	inv.Status = InvoiceStatus(status)
	if poID != nil {
		inv.POID = *poID
	}
	if notes != nil {
		inv.Notes = *notes
	}
	if reason != nil {
		inv.VoidReason = *reason
	}
	return inv, nil
}
