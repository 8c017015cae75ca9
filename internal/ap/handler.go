package ap

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flota-erp/flota-erp/internal/platform/httpx"
	"github.com/flota-erp/flota-erp/internal/shared"
)

// Handler manages supplier invoice endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers supplier invoice routes under /api.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/facturas-proveedor", func(r chi.Router) {
		r.Get("/", h.listInvoices)
		r.Get("/aging", h.aging)
		r.Post("/desde-oc", h.createFromPO)
		r.Post("/pagos-multiples", h.registerMultiplePayment)
		r.Get("/{id}", h.getInvoice)
		r.Get("/{id}/pagos", h.listPayments)
		r.Post("/{id}/pagos", h.registerPayment)
		r.Post("/{id}/anular", h.voidInvoice)
	})
}

func (h *Handler) createFromPO(w http.ResponseWriter, r *http.Request) {
	var req createFromPORequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	issue, err := httpx.ParseDate(req.IssueDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	input := CreateFromPOInput{
		POID:           req.POID,
		SupplierNumber: req.SupplierNumber,
		IssueDate:      issue,
		Notes:          req.Notes,
		ActorID:        shared.ActorFromContext(r.Context()),
	}
	if req.DueDate != "" {
		due, err := httpx.ParseDate(req.DueDate)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		input.DueDate = &due
	}
	inv, err := h.service.CreateInvoiceFromPO(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) registerPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req paymentRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	paidAt, err := optionalDate(req.PaidAt)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.RegisterPayment(r.Context(), PaymentInput{
		InvoiceID:    id,
		PaidAt:       paidAt,
		Method:       PaymentMethod(req.Method),
		Amount:       req.Amount,
		RetIVA:       req.RetIVA,
		RetGanancias: req.RetGanancias,
		RetIIBB:      req.RetIIBB,
		Reference:    req.Reference,
		Notes:        req.Notes,
		ActorID:      shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) registerMultiplePayment(w http.ResponseWriter, r *http.Request) {
	var req multiPaymentRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	paidAt, err := optionalDate(req.PaidAt)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	input := MultiPaymentInput{
		SupplierID: req.SupplierID,
		PaidAt:     paidAt,
		InvoiceIDs: req.InvoiceIDs,
		Notes:      req.Notes,
		ActorID:    shared.ActorFromContext(r.Context()),
	}
	for _, in := range req.Instruments {
		input.Instruments = append(input.Instruments, Instrument{
			Method:    PaymentMethod(in.Method),
			Amount:    in.Amount,
			Reference: in.Reference,
		})
	}
	result, err := h.service.RegisterMultiplePayment(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) voidInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req voidRequest
	if r.ContentLength != 0 {
		if err := httpx.Bind(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	inv, err := h.service.VoidInvoice(r.Context(), VoidInput{
		InvoiceID: id,
		Reason:    req.Reason,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	payments, err := h.service.ListPaymentsByInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if payments == nil {
		payments = []Payment{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": payments})
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ListFilters{
		Status: InvoiceStatus(q.Get("estado")),
		Page:   shared.PageFromRequest(r),
	}
	for param, dest := range map[string]*int64{"proveedor_id": &filters.SupplierID, "orden_compra_id": &filters.POID} {
		if raw := q.Get(param); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				h.fail(w, r, shared.InvalidInput("filtro inválido: "+param))
				return
			}
			*dest = v
		}
	}
	var err error
	if filters.DueFrom, err = optionalDate(q.Get("vence_desde")); err != nil {
		h.fail(w, r, err)
		return
	}
	if filters.DueTo, err = optionalDate(q.Get("vence_hasta")); err != nil {
		h.fail(w, r, err)
		return
	}
	invoices, total, err := h.service.ListInvoices(r.Context(), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if invoices == nil {
		invoices = []Invoice{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      invoices,
		"pagination": shared.NewPagination(filters.Page.Page, filters.Page.PerPage, total),
	})
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	asOf, err := optionalDate(r.URL.Query().Get("fecha"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.service.CalculateAging(r.Context(), asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !shared.IsDomain(err) {
		h.logger.Error("ap request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func optionalDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return httpx.ParseDate(raw)
}
