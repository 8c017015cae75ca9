package inventory

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flota-erp/flota-erp/internal/platform/httpx"
	"github.com/flota-erp/flota-erp/internal/shared"
)

// Handler exposes stock transfers, movements and stock queries.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes under /api.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/transferencias", func(r chi.Router) {
		r.Post("/", h.createTransfer)
		r.Get("/{id}", h.getTransfer)
		r.Post("/{id}/items", h.addTransferLine)
		r.Delete("/{id}/items/{itemID}", h.removeTransferLine)
		r.Post("/{id}/confirmar", h.confirmTransfer)
	})
	r.Route("/movimientos", func(r chi.Router) {
		r.Post("/", h.createMovement)
		r.Get("/{id}", h.getMovement)
		r.Post("/{id}/items", h.addMovementLine)
		r.Delete("/{id}/items/{itemID}", h.removeMovementLine)
		r.Post("/{id}/confirmar", h.confirmMovement)
	})
	r.Get("/depositos/{id}/stock", h.listStock)
	r.Get("/stock/{itemID}/kardex", h.stockCard)
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	transfer, err := h.service.CreateTransfer(r.Context(), CreateTransferInput{
		OriginDepositID:      req.OriginDepositID,
		DestinationDepositID: req.DestinationDepositID,
		ActorID:              shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transfer)
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	transfer, err := h.service.GetTransfer(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) addTransferLine(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req addLineRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	line, err := h.service.AddTransferLine(r.Context(), LineInput{
		ParentID:    id,
		StockItemID: req.StockItemID,
		Qty:         req.Qty,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, line)
}

func (h *Handler) removeTransferLine(w http.ResponseWriter, r *http.Request) {
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
	if err := h.service.RemoveTransferLine(r.Context(), id, lineID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) confirmTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	transfer, err := h.service.ConfirmTransfer(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) createMovement(w http.ResponseWriter, r *http.Request) {
	var req createMovementRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	input := CreateMovementInput{
		DepositID:   req.DepositID,
		VoucherType: req.VoucherType,
		Type:        req.Type,
		ActorID:     shared.ActorFromContext(r.Context()),
	}
	if req.RegisteredAt != nil {
		input.RegisteredAt = *req.RegisteredAt
	}
	movement, err := h.service.CreateMovement(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) getMovement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	movement, err := h.service.GetMovement(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movement)
}

func (h *Handler) addMovementLine(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req addLineRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	line, err := h.service.AddMovementLine(r.Context(), LineInput{
		ParentID:    id,
		StockItemID: req.StockItemID,
		Qty:         req.Qty,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, line)
}

func (h *Handler) removeMovementLine(w http.ResponseWriter, r *http.Request) {
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
	if err := h.service.RemoveMovementLine(r.Context(), id, lineID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) confirmMovement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	movement, err := h.service.ConfirmMovement(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movement)
}

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.service.ListStock(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []StockItem{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "itemID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := StockCardFilter{StockItemID: id, Limit: shared.PageFromRequest(r).Limit()}
	if raw := r.URL.Query().Get("desde"); raw != "" {
		if filter.From, err = time.Parse("2006-01-02", raw); err != nil {
			h.fail(w, r, shared.InvalidInput("fecha desde inválida"))
			return
		}
	}
	if raw := r.URL.Query().Get("hasta"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.fail(w, r, shared.InvalidInput("fecha hasta inválida"))
			return
		}
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	entries, err := h.service.GetStockCard(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []StockCardEntry{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !shared.IsDomain(err) {
		h.logger.Error("inventory request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
