package inventory

import "time"

type createTransferRequest struct {
	OriginDepositID      int64 `json:"deposito_origen_id" validate:"required,gt=0"`
	DestinationDepositID int64 `json:"deposito_destino_id" validate:"required,gt=0,nefield=OriginDepositID"`
}

type createMovementRequest struct {
	DepositID    int64        `json:"deposito_id" validate:"required,gt=0"`
	VoucherType  string       `json:"tipo_comprobante" validate:"max=60"`
	Type         MovementType `json:"tipo" validate:"required,oneof=ingreso egreso"`
	RegisteredAt *time.Time   `json:"fecha_registro"`
}

type addLineRequest struct {
	StockItemID int64   `json:"stock_item_id" validate:"required,gt=0"`
	Qty         float64 `json:"cantidad" validate:"gt=0"`
}
