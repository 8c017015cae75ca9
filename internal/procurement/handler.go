package procurement

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flota-erp/flota-erp/internal/platform/httpx"
	"github.com/flota-erp/flota-erp/internal/shared"
)

// IdempotencyHeader may carry the receipt idempotency key instead of the body.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes purchase order endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers purchase order routes under /api.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ordenes-compra", func(r chi.Router) {
		r.Get("/", h.listPOs)
		r.Post("/", h.createPO)
		r.Get("/{id}", h.getPO)
		r.Post("/{id}/estado", h.changeStatus)
		r.Post("/{id}/recepciones", h.receive)
		r.Post("/{id}/items/{itemID}/cancelar", h.cancelLine)
	})
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	var req createPORequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	input := CreatePOInput{
		SupplierID:        req.SupplierID,
		ExpectedDate:      req.ExpectedDate,
		DeliveryDepositID: req.DeliveryDepositID,
		Currency:          req.Currency,
		ExchangeRate:      req.ExchangeRate,
		Buyer:             req.Buyer,
		Notes:             req.Notes,
		ActorID:           shared.ActorFromContext(r.Context()),
	}
	if req.OrderDate != nil {
		input.OrderDate = *req.OrderDate
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, POLineInput{
			RepuestoID:  l.RepuestoID,
			Description: l.Description,
			Unit:        l.Unit,
			Qty:         l.Qty,
			UnitPrice:   l.UnitPrice,
			DiscountPct: l.DiscountPct,
			TaxRate:     l.TaxRate,
			DepositID:   l.DepositID,
		})
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ListFilters{
		Status: POStatus(q.Get("estado")),
		Page:   shared.PageFromRequest(r),
	}
	if raw := q.Get("proveedor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.fail(w, r, shared.InvalidInput("proveedor inválido"))
			return
		}
		filters.SupplierID = id
	}
	if raw := q.Get("desde"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.fail(w, r, shared.InvalidInput("fecha desde inválida"))
			return
		}
		filters.From = from
	}
	if raw := q.Get("hasta"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.fail(w, r, shared.InvalidInput("fecha hasta inválida"))
			return
		}
		filters.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	orders, total, err := h.service.ListPurchaseOrders(r.Context(), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if orders == nil {
		orders = []PurchaseOrder{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      orders,
		"pagination": shared.NewPagination(filters.Page.Page, filters.Page.PerPage, total),
	})
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req changeStatusRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	po, err := h.service.ChangeStatus(r.Context(), ChangeStatusInput{
		POID:    id,
		Status:  POStatus(req.Status),
		Force:   req.Force,
		Note:    req.Note,
		ActorID: shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req receiveRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	input := ReceiveInput{
		POID:           id,
		IdempotencyKey: req.IdempotencyKey,
		ActorID:        shared.ActorFromContext(r.Context()),
	}
	if input.IdempotencyKey == "" {
		input.IdempotencyKey = r.Header.Get(IdempotencyHeader)
	}
	if req.ReceivedAt != nil {
		input.ReceivedAt = *req.ReceivedAt
	}
	for _, it := range req.Items {
		input.Items = append(input.Items, ReceiveItem{LineID: it.LineID, Qty: it.Qty, Remito: it.Remito})
	}
	result, err := h.service.Receive(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.StockPending {
		status = http.StatusAccepted
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) cancelLine(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lineID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req cancelLineRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	po, err := h.service.CancelLineQuantity(r.Context(), CancelLineInput{
		POID:    id,
		LineID:  lineID,
		Qty:     req.Qty,
		Reason:  req.Reason,
		ActorID: shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !shared.IsDomain(err) {
		h.logger.Error("procurement request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
