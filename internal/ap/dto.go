package ap

type createFromPORequest struct {
	POID           int64  `json:"orden_compra_id" validate:"required,gt=0"`
	SupplierNumber string `json:"numero_factura" validate:"required,max=60"`
	IssueDate      string `json:"fecha_emision" validate:"required"`
	DueDate        string `json:"fecha_vencimiento"`
	Notes          string `json:"notas" validate:"max=2000"`
}

type paymentRequest struct {
	PaidAt       string  `json:"fecha_pago"`
	Method       string  `json:"medio_pago" validate:"omitempty,oneof=TRANSFERENCIA EFECTIVO CHEQUE TARJETA OTRO"`
	Amount       float64 `json:"monto" validate:"gte=0"`
	RetIVA       float64 `json:"retencion_iva" validate:"gte=0"`
	RetGanancias float64 `json:"retencion_ganancias" validate:"gte=0"`
	RetIIBB      float64 `json:"retencion_iibb" validate:"gte=0"`
	Reference    string  `json:"referencia" validate:"max=120"`
	Notes        string  `json:"notas" validate:"max=2000"`
}

type multiPaymentRequest struct {
	SupplierID  int64               `json:"proveedor_id" validate:"required,gt=0"`
	PaidAt      string              `json:"fecha_pago"`
	InvoiceIDs  []int64             `json:"facturas" validate:"required,min=1,dive,gt=0"`
	Instruments []instrumentRequest `json:"medios" validate:"required,min=1,dive"`
	Notes       string              `json:"notas" validate:"max=2000"`
}

type instrumentRequest struct {
	Method    string  `json:"medio_pago" validate:"omitempty,oneof=TRANSFERENCIA EFECTIVO CHEQUE TARJETA OTRO"`
	Amount    float64 `json:"monto" validate:"gt=0"`
	Reference string  `json:"referencia" validate:"max=120"`
}

type voidRequest struct {
	Reason string `json:"motivo" validate:"max=500"`
}
