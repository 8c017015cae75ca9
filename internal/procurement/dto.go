package procurement

import "time"

type createPORequest struct {
	SupplierID        int64           `json:"proveedor_id" validate:"required,gt=0"`
	OrderDate         *time.Time      `json:"fecha_orden"`
	ExpectedDate      *time.Time      `json:"fecha_entrega_estimada"`
	DeliveryDepositID int64           `json:"deposito_entrega_id" validate:"gte=0"`
	Currency          string          `json:"moneda" validate:"omitempty,oneof=ARS USD"`
	ExchangeRate      float64         `json:"tipo_cambio" validate:"gte=0"`
	Buyer             string          `json:"comprador" validate:"max=120"`
	Notes             string          `json:"notas" validate:"max=2000"`
	Lines             []poLineRequest `json:"items" validate:"dive"`
}

type poLineRequest struct {
	RepuestoID  int64   `json:"repuesto_id"`
	Description string  `json:"descripcion" validate:"max=255"`
	Unit        string  `json:"unidad" validate:"max=20"`
	Qty         float64 `json:"cantidad"`
	UnitPrice   float64 `json:"precio_unitario"`
	DiscountPct float64 `json:"descuento_pct"`
	TaxRate     float64 `json:"alicuota_iva"`
	DepositID   int64   `json:"deposito_id" validate:"gte=0"`
}

type changeStatusRequest struct {
	Status string `json:"estado" validate:"required"`
	Force  bool   `json:"forzar"`
	Note   string `json:"nota" validate:"max=500"`
}

type receiveRequest struct {
	Items          []receiveItemRequest `json:"items" validate:"dive"`
	IdempotencyKey string               `json:"idempotency_key" validate:"max=120"`
	ReceivedAt     *time.Time           `json:"fecha"`
}

type receiveItemRequest struct {
	LineID int64   `json:"item_id" validate:"required,gt=0"`
	Qty    float64 `json:"cantidad"`
	Remito string  `json:"remito" validate:"max=60"`
}

type cancelLineRequest struct {
	Qty    float64 `json:"cantidad"`
	Reason string  `json:"motivo" validate:"max=500"`
}
