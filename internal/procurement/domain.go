package procurement

import (
	"time"

	"github.com/flota-erp/flota-erp/internal/platform/money"
	"github.com/flota-erp/flota-erp/internal/shared"
)

// POStatus enumerates purchase order statuses.
type POStatus string

const (
	POStatusDraft             POStatus = "BORRADOR"
	POStatusPendingApproval   POStatus = "PENDIENTE_APROBACION"
	POStatusApproved          POStatus = "APROBADA"
	POStatusSent              POStatus = "ENVIADA"
	POStatusPartiallyReceived POStatus = "PARCIALMENTE_RECIBIDA"
	POStatusClosed            POStatus = "CERRADA"
	POStatusCancelled         POStatus = "CANCELADA"
)

// transitions lists the statuses reachable from each status without Force.
var transitions = map[POStatus][]POStatus{
	POStatusDraft:             {POStatusPendingApproval, POStatusApproved, POStatusCancelled},
	POStatusPendingApproval:   {POStatusDraft, POStatusApproved, POStatusCancelled},
	POStatusApproved:          {POStatusSent, POStatusCancelled},
	POStatusSent:              {POStatusPartiallyReceived, POStatusClosed, POStatusCancelled},
	POStatusPartiallyReceived: {POStatusClosed, POStatusCancelled},
	POStatusClosed:            nil,
	POStatusCancelled:         nil,
}

// Valid reports whether s is a known status.
func (s POStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no regular transition leaves s.
func (s POStatus) Terminal() bool {
	return s == POStatusClosed || s == POStatusCancelled
}

// CanTransition reports whether from -> to is allowed without Force.
func CanTransition(from, to POStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// LineStatus enumerates PO line statuses.
type LineStatus string

const (
	LineOpen   LineStatus = "ABIERTA"
	LineClosed LineStatus = "CERRADA"
)

// Supported currencies.
const (
	CurrencyARS = "ARS"
	CurrencyUSD = "USD"
)

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID                int64      `json:"id"`
	Number            string     `json:"numero"`
	SupplierID        int64      `json:"proveedor_id"`
	OrderDate         time.Time  `json:"fecha_orden"`
	ExpectedDate      *time.Time `json:"fecha_entrega_estimada,omitempty"`
	DeliveryDepositID int64      `json:"deposito_entrega_id"`
	Currency          string     `json:"moneda"`
	ExchangeRate      float64    `json:"tipo_cambio"`
	Status            POStatus   `json:"estado"`
	Subtotal          float64    `json:"subtotal"`
	DiscountTotal     float64    `json:"descuento_total"`
	TaxTotal          float64    `json:"iva_total"`
	Total             float64    `json:"total"`
	Buyer             string     `json:"comprador,omitempty"`
	Notes             string     `json:"notas,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Lines             []POLine   `json:"items,omitempty"`
}

// POLine represents PO lines.
type POLine struct {
	ID           int64      `json:"id"`
	POID         int64      `json:"orden_compra_id"`
	RepuestoID   int64      `json:"repuesto_id"`
	Description  string     `json:"descripcion"`
	Unit         string     `json:"unidad"`
	QtyOrdered   float64    `json:"cantidad_pedida"`
	QtyReceived  float64    `json:"cantidad_recibida"`
	QtyCancelled float64    `json:"cantidad_cancelada"`
	UnitPrice    float64    `json:"precio_unitario"`
	DiscountPct  float64    `json:"descuento_pct"`
	TaxRate      float64    `json:"alicuota_iva"`
	LineTotal    float64    `json:"total_linea"`
	Status       LineStatus `json:"estado"`
	DepositID    int64      `json:"deposito_id"`
}

// Pending returns the quantity still expected.
func (l POLine) Pending() float64 {
	return money.Sub(l.QtyOrdered, money.Sum(l.QtyReceived, l.QtyCancelled))
}

// Complete reports whether nothing else is expected on the line.
func (l POLine) Complete() bool {
	return money.Sum(l.QtyReceived, l.QtyCancelled) >= money.Round2(l.QtyOrdered)
}

func (l POLine) derivedStatus() LineStatus {
	if l.Complete() {
		return LineClosed
	}
	return LineOpen
}

// Receipt records one call to Receive. Its stock is posted afterwards.
type Receipt struct {
	ID             int64         `json:"id"`
	POID           int64         `json:"orden_compra_id"`
	Remito         string        `json:"remito,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	ReceivedAt     time.Time     `json:"fecha"`
	ActorID        int64         `json:"usuario_id,omitempty"`
	StockPosted    bool          `json:"stock_registrado"`
	Lines          []ReceiptLine `json:"items"`
}

// ReceiptLine is a received quantity of one PO line.
type ReceiptLine struct {
	ID         int64   `json:"id"`
	ReceiptID  int64   `json:"recepcion_id"`
	POLineID   int64   `json:"item_id"`
	RepuestoID int64   `json:"repuesto_id"`
	DepositID  int64   `json:"deposito_id"`
	Qty        float64 `json:"cantidad"`
	Remito     string  `json:"remito,omitempty"`
}

// CreatePOInput describes a new order.
type CreatePOInput struct {
	SupplierID        int64
	OrderDate         time.Time
	ExpectedDate      *time.Time
	DeliveryDepositID int64
	Currency          string
	ExchangeRate      float64
	Buyer             string
	Notes             string
	ActorID           int64
	Lines             []POLineInput
}

// POLineInput describes an order line.
type POLineInput struct {
	RepuestoID  int64
	Description string
	Unit        string
	Qty         float64
	UnitPrice   float64
	DiscountPct float64
	TaxRate     float64
	DepositID   int64
}

// ChangeStatusInput sets a new header status. Force skips the transition table.
type ChangeStatusInput struct {
	POID    int64
	Status  POStatus
	Force   bool
	Note    string
	ActorID int64
}

// ReceiveInput registers received quantities.
type ReceiveInput struct {
	POID           int64
	Items          []ReceiveItem
	IdempotencyKey string
	ReceivedAt     time.Time
	ActorID        int64
}

// ReceiveItem is one received quantity.
type ReceiveItem struct {
	LineID int64
	Qty    float64
	Remito string
}

// ReceiveResult reports the order after the receipt.
type ReceiveResult struct {
	Order        PurchaseOrder `json:"orden_compra"`
	Receipt      Receipt       `json:"recepcion"`
	StockPending bool          `json:"stock_pendiente"`
}

// CancelLineInput cancels part of the pending quantity of a line.
type CancelLineInput struct {
	POID    int64
	LineID  int64
	Qty     float64
	Reason  string
	ActorID int64
}

// ListFilters narrows order listings.
type ListFilters struct {
	Status     POStatus
	SupplierID int64
	From       time.Time
	To         time.Time
	Page       shared.PageRequest
}

var (
	ErrPONotFound        = shared.NotFound("orden de compra no encontrada")
	ErrSupplierNotFound  = shared.NotFound("proveedor no encontrado")
	ErrDepositNotFound   = shared.NotFound("depósito no encontrado")
	ErrReceiptNotFound   = shared.NotFound("recepción no encontrada")
	ErrNoLines           = shared.InvalidInput("la orden de compra debe tener al menos un ítem")
	ErrInvalidLineQty    = shared.InvalidInput("la cantidad de cada ítem debe ser mayor a cero")
	ErrInvalidPrice      = shared.InvalidInput("el precio unitario no puede ser negativo")
	ErrInvalidDiscount   = shared.InvalidInput("el descuento debe estar entre 0 y 100")
	ErrInvalidTaxRate    = shared.InvalidInput("la alícuota de IVA no puede ser negativa")
	ErrInvalidRepuesto   = shared.InvalidInput("cada ítem debe indicar un repuesto")
	ErrInvalidCurrency   = shared.InvalidInput("moneda inválida")
	ErrInvalidRate       = shared.InvalidInput("el tipo de cambio debe ser mayor a cero")
	ErrInvalidStatus     = shared.InvalidInput("estado inválido")
	ErrInvalidLine       = shared.InvalidInput("ítem inválido")
	ErrInvalidReceiveQty = shared.InvalidInput("cantidad a recibir inválida")
	ErrInvalidCancelQty  = shared.InvalidInput("cantidad a cancelar inválida")
	ErrNoReceiveItems    = shared.InvalidInput("debe indicar al menos un ítem a recibir")
	ErrTransition        = shared.InvalidState("transición de estado no permitida")
	ErrNotReceivable     = shared.InvalidState("la orden de compra no admite recepciones en su estado actual")
	ErrReceiptDuplicate  = shared.InvalidState("la recepción ya fue registrada")
)
