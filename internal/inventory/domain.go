package inventory

import (
	"errors"
	"time"

	"github.com/flota-erp/flota-erp/internal/shared"
)

// TransferStatus enumerates transfer states.
type TransferStatus string

const (
	// TransferPending allows editing lines; stock is untouched.
	TransferPending TransferStatus = "pendiente"
	// TransferConfirmed is terminal; stock has been moved.
	TransferConfirmed TransferStatus = "confirmado"
)

// MovementType enumerates single deposit movements.
type MovementType string

const (
	// MovementIn adds stock to the deposit.
	MovementIn MovementType = "ingreso"
	// MovementOut removes stock from the deposit.
	MovementOut MovementType = "egreso"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	return t == MovementIn || t == MovementOut
}

// Stock card reference modules.
const (
	RefTransfer = "TRANSFERENCIA"
	RefMovement = "MOVIMIENTO"
	RefReceipt  = "RECEPCION"
)

// StockItem is the stock of one repuesto at one deposit.
type StockItem struct {
	ID         int64     `json:"id"`
	DepositID  int64     `json:"deposito_id"`
	RepuestoID int64     `json:"repuesto_id"`
	Qty        float64   `json:"stock_actual"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Transfer moves stock between two deposits.
type Transfer struct {
	ID                   int64          `json:"id"`
	OriginDepositID      int64          `json:"deposito_origen_id"`
	DestinationDepositID int64          `json:"deposito_destino_id"`
	Status               TransferStatus `json:"estado"`
	UserID               int64          `json:"usuario_id"`
	CreatedAt            time.Time      `json:"created_at"`
	ConfirmedAt          *time.Time     `json:"confirmado_at,omitempty"`
	Lines                []TransferLine `json:"items"`
}

// TransferLine references a stock item of the origin deposit.
type TransferLine struct {
	ID          int64   `json:"id"`
	TransferID  int64   `json:"transferencia_id"`
	StockItemID int64   `json:"stock_item_id"`
	Qty         float64 `json:"cantidad"`
}

// Movement is an ingress or egress on a single deposit.
type Movement struct {
	ID           int64          `json:"id"`
	DepositID    int64          `json:"deposito_id"`
	VoucherType  string         `json:"tipo_comprobante"`
	Type         MovementType   `json:"tipo"`
	Confirmed    bool           `json:"confirmado"`
	RegisteredAt time.Time      `json:"fecha_registro"`
	ConfirmedAt  *time.Time     `json:"confirmado_at,omitempty"`
	UserID       int64          `json:"usuario_id"`
	Lines        []MovementLine `json:"items"`
}

// MovementLine references a stock item of the movement deposit.
type MovementLine struct {
	ID          int64   `json:"id"`
	MovementID  int64   `json:"movimiento_id"`
	StockItemID int64   `json:"stock_item_id"`
	Qty         float64 `json:"cantidad"`
}

// StockCardEntry is one kardex row written for every stock mutation.
type StockCardEntry struct {
	ID          int64     `json:"id"`
	StockItemID int64     `json:"stock_item_id"`
	DepositID   int64     `json:"deposito_id"`
	RepuestoID  int64     `json:"repuesto_id"`
	RefModule   string    `json:"ref_modulo"`
	RefID       int64     `json:"ref_id"`
	QtyIn       float64   `json:"cantidad_entrada"`
	QtyOut      float64   `json:"cantidad_salida"`
	QtyBefore   float64   `json:"cantidad_anterior"`
	QtyAfter    float64   `json:"cantidad_nueva"`
	PostedAt    time.Time `json:"fecha"`
	Note        string    `json:"nota,omitempty"`
}

// CreateTransferInput opens a pending transfer.
type CreateTransferInput struct {
	OriginDepositID      int64
	DestinationDepositID int64
	ActorID              int64
}

// CreateMovementInput opens an unconfirmed movement.
type CreateMovementInput struct {
	DepositID    int64
	VoucherType  string
	Type         MovementType
	RegisteredAt time.Time
	ActorID      int64
}

// LineInput adds a stock item to a pending transfer or movement.
type LineInput struct {
	ParentID    int64
	StockItemID int64
	Qty         float64
	ActorID     int64
}

// InboundInput increments stock from an external document such as a PO receipt.
// Key makes the posting idempotent.
type InboundInput struct {
	Key        string
	DepositID  int64
	RepuestoID int64
	Qty        float64
	RefModule  string
	RefID      int64
	Note       string
	ActorID    int64
}

// StockCardFilter filters card entries.
type StockCardFilter struct {
	StockItemID int64
	From        time.Time
	To          time.Time
	Limit       int
}

var (
	ErrTransferNotFound     = shared.NotFound("transferencia no encontrada")
	ErrMovementNotFound     = shared.NotFound("movimiento no encontrado")
	ErrLineNotFound         = shared.NotFound("ítem no encontrado")
	ErrStockItemNotFound    = shared.NotFound("ítem de stock no encontrado")
	ErrDepositNotFound      = shared.NotFound("depósito no encontrado")
	ErrSameDeposit          = shared.InvalidInput("el depósito de origen y destino deben ser distintos")
	ErrInvalidQuantity      = shared.InvalidInput("la cantidad debe ser mayor a cero")
	ErrItemNotInDeposit     = shared.InvalidInput("el ítem no pertenece al depósito")
	ErrInvalidMovementType  = shared.InvalidInput("tipo de movimiento inválido")
	ErrTransferConfirmed    = shared.InvalidState("la transferencia ya fue confirmada")
	ErrMovementConfirmed    = shared.InvalidState("el movimiento ya fue confirmado")
	ErrTransferWithoutLines = shared.InvalidState("la transferencia no tiene ítems")
	ErrMovementWithoutLines = shared.InvalidState("el movimiento no tiene ítems")
	ErrInsufficientStock    = shared.InvalidState("stock insuficiente")
)

// ErrAlreadyPosted is returned by PostInbound when the key was applied before.
var ErrAlreadyPosted = errors.New("inventory: inbound already posted")
