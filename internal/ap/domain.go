package ap

import (
	"time"

	"github.com/google/uuid"

	"github.com/flota-erp/flota-erp/internal/shared"
)

// InvoiceStatus enumerates supplier invoice statuses.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "PENDIENTE"
	InvoicePartial InvoiceStatus = "PARCIAL"
	InvoicePaid    InvoiceStatus = "PAGADA"
	InvoiceVoid    InvoiceStatus = "ANULADA"
)

// Valid reports whether s is a known status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoicePending, InvoicePartial, InvoicePaid, InvoiceVoid:
		return true
	}
	return false
}

// Payable reports whether payments may be applied.
func (s InvoiceStatus) Payable() bool {
	return s == InvoicePending || s == InvoicePartial
}

// PaymentMethod enumerates payment instruments.
type PaymentMethod string

const (
	MethodTransfer PaymentMethod = "TRANSFERENCIA"
	MethodCash     PaymentMethod = "EFECTIVO"
	MethodCheque   PaymentMethod = "CHEQUE"
	MethodCard     PaymentMethod = "TARJETA"
	MethodOther    PaymentMethod = "OTRO"
)

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodTransfer, MethodCash, MethodCheque, MethodCard, MethodOther:
		return true
	}
	return false
}

// Invoice is a supplier invoice.
type Invoice struct {
	ID             int64         `json:"id"`
	SupplierID     int64         `json:"proveedor_id"`
	POID           int64         `json:"orden_compra_id,omitempty"`
	SupplierNumber string        `json:"numero_factura"`
	IssueDate      time.Time     `json:"fecha_emision"`
	DueDate        time.Time     `json:"fecha_vencimiento"`
	Currency       string        `json:"moneda"`
	ExchangeRate   float64       `json:"tipo_cambio"`
	Net            float64       `json:"neto"`
	VAT21          float64       `json:"iva_21"`
	VAT105         float64       `json:"iva_105"`
	OtherTaxes     float64       `json:"otros_impuestos"`
	Total          float64       `json:"total"`
	Balance        float64       `json:"saldo"`
	Status         InvoiceStatus `json:"estado"`
	Notes          string        `json:"notas,omitempty"`
	VoidReason     string        `json:"motivo_anulacion,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Lines          []InvoiceLine `json:"items,omitempty"`
	Payments       []Payment     `json:"pagos,omitempty"`
}

// InvoiceLine is an invoiced PO line.
type InvoiceLine struct {
	ID          int64   `json:"id"`
	InvoiceID   int64   `json:"factura_id"`
	POLineID    int64   `json:"item_oc_id,omitempty"`
	RepuestoID  int64   `json:"repuesto_id"`
	Description string  `json:"descripcion"`
	Qty         float64 `json:"cantidad"`
	UnitPrice   float64 `json:"precio_unitario"`
	DiscountPct float64 `json:"descuento_pct"`
	TaxRate     float64 `json:"alicuota_iva"`
	Subtotal    float64 `json:"subtotal"`
	TaxAmount   float64 `json:"iva_monto"`
	Total       float64 `json:"total_linea"`
}

// Payment is an append-only payment record against one invoice.
type Payment struct {
	ID           int64         `json:"id"`
	InvoiceID    int64         `json:"factura_id"`
	PaidAt       time.Time     `json:"fecha_pago"`
	Method       PaymentMethod `json:"medio_pago"`
	Amount       float64       `json:"monto"`
	RetIVA       float64       `json:"retencion_iva"`
	RetGanancias float64       `json:"retencion_ganancias"`
	RetIIBB      float64       `json:"retencion_iibb"`
	Reference    string        `json:"referencia,omitempty"`
	Notes        string        `json:"notas,omitempty"`
	BatchID      *uuid.UUID    `json:"lote_id,omitempty"`
	ActorID      int64         `json:"usuario_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Retentions returns the sum of the withheld taxes.
func (p Payment) Retentions() float64 {
	return p.RetIVA + p.RetGanancias + p.RetIIBB
}

// CreateFromPOInput creates an invoice mirroring a purchase order.
type CreateFromPOInput struct {
	POID           int64
	SupplierNumber string
	IssueDate      time.Time
	DueDate        *time.Time
	Notes          string
	ActorID        int64
}

// PaymentInput registers a payment on a single invoice.
type PaymentInput struct {
	InvoiceID    int64
	PaidAt       time.Time
	Method       PaymentMethod
	Amount       float64
	RetIVA       float64
	RetGanancias float64
	RetIIBB      float64
	Reference    string
	Notes        string
	ActorID      int64
}

// Instrument is one payment medium of a multi-invoice payment.
type Instrument struct {
	Method    PaymentMethod
	Amount    float64
	Reference string
}

// MultiPaymentInput settles several invoices of a supplier at once.
type MultiPaymentInput struct {
	SupplierID  int64
	PaidAt      time.Time
	InvoiceIDs  []int64
	Instruments []Instrument
	Notes       string
	ActorID     int64
}

// MultiPaymentResult groups the payments written by one settlement.
type MultiPaymentResult struct {
	BatchID  uuid.UUID `json:"lote_id"`
	Payments []Payment `json:"pagos"`
	Invoices []Invoice `json:"facturas"`
}

// PaymentResult reports a registered payment.
type PaymentResult struct {
	Payment  Payment `json:"pago"`
	Invoice  Invoice `json:"factura"`
	POClosed bool    `json:"orden_compra_cerrada"`
}

// VoidInput annuls an invoice.
type VoidInput struct {
	InvoiceID int64
	Reason    string
	ActorID   int64
}

// ListFilters narrows invoice listings.
type ListFilters struct {
	Status     InvoiceStatus
	SupplierID int64
	POID       int64
	DueFrom    time.Time
	DueTo      time.Time
	Page       shared.PageRequest
}

// OpenBalance is the outstanding saldo of an invoice for aging.
type OpenBalance struct {
	InvoiceID int64
	DueDate   time.Time
	Balance   float64
}

// AgingReport buckets outstanding balances by days past due.
type AgingReport struct {
	AsOf       time.Time `json:"fecha_corte"`
	Current    float64   `json:"corriente"`
	Days1To30  float64   `json:"dias_1_30"`
	Days31To60 float64   `json:"dias_31_60"`
	Days61To90 float64   `json:"dias_61_90"`
	Over90     float64   `json:"mas_de_90"`
	Total      float64   `json:"total"`
	Invoices   int       `json:"facturas"`
}

var (
	ErrInvoiceNotFound    = shared.NotFound("factura no encontrada")
	ErrPONotFound         = shared.NotFound("orden de compra no encontrada")
	ErrSupplierNotFound   = shared.NotFound("proveedor no encontrado")
	ErrPOWithoutLines     = shared.InvalidInput("la orden de compra no tiene ítems")
	ErrInvalidDueDate     = shared.InvalidInput("la fecha de vencimiento no puede ser anterior a la de emisión")
	ErrInvalidAmount      = shared.InvalidInput("los montos no pueden ser negativos")
	ErrEmptyPayment       = shared.InvalidInput("el pago debe tener un monto o retenciones")
	ErrInvalidMethod      = shared.InvalidInput("medio de pago inválido")
	ErrInvalidStatus      = shared.InvalidInput("estado inválido")
	ErrNoInvoices         = shared.InvalidInput("debe seleccionar al menos una factura")
	ErrNoInstruments      = shared.InvalidInput("debe indicar al menos un medio de pago")
	ErrSettlementMismatch = shared.InvalidInput("el total de los medios de pago debe igualar el saldo de las facturas seleccionadas")
	ErrSupplierMismatch   = shared.InvalidInput("las facturas seleccionadas deben ser del mismo proveedor")
	ErrVoidPayment        = shared.InvalidState("no se puede registrar un pago sobre una factura anulada")
	ErrNotPayable         = shared.InvalidState("la factura no admite pagos en su estado actual")
)
