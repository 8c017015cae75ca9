package inventory

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/flota-erp/flota-erp/internal/platform/httpx"
	"github.com/flota-erp/flota-erp/internal/shared"
)

func newTestRouter(repo *memoryRepo) http.Handler {
	svc, _ := newTestService(repo)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Use(shared.ActorMiddleware)
	r.Route("/api", h.MountRoutes)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(shared.ActorHeader, "3")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestTransferEndpoints(t *testing.T) {
	repo := newMemoryRepo(1, 2)
	item := repo.seedItem(1, 100, 2)
	router := newTestRouter(repo)

	rr := doJSON(t, router, http.MethodPost, "/api/transferencias", `{"deposito_origen_id":1,"deposito_destino_id":2}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var transfer Transfer
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &transfer))
	require.Equal(t, int64(3), transfer.UserID)

	path := fmt.Sprintf("/api/transferencias/%d", transfer.ID)
	rr = doJSON(t, router, http.MethodPost, path+"/items", fmt.Sprintf(`{"stock_item_id":%d,"cantidad":5}`, item.ID))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doJSON(t, router, http.MethodPost, path+"/confirmar", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.True(t, strings.HasPrefix(problem.Detail, "stock insuficiente"))

	rr = doJSON(t, router, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, http.MethodGet, "/api/transferencias/999", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTransferEndpointValidation(t *testing.T) {
	router := newTestRouter(newMemoryRepo(1, 2))

	rr := doJSON(t, router, http.MethodPost, "/api/transferencias", `{"deposito_origen_id":1,"deposito_destino_id":1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/api/transferencias/abc/confirmar", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStockEndpoints(t *testing.T) {
	repo := newMemoryRepo(1)
	item := repo.seedItem(1, 100, 2)
	router := newTestRouter(repo)

	rr := doJSON(t, router, http.MethodGet, "/api/depositos/1/stock", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Items []StockItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)

	rr = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/stock/%d/kardex?desde=2024-01-01", item.ID), "")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/stock/%d/kardex?desde=ayer", item.ID), "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMovementEndpoints(t *testing.T) {
	repo := newMemoryRepo(1)
	item := repo.seedItem(1, 100, 2)
	router := newTestRouter(repo)

	rr := doJSON(t, router, http.MethodPost, "/api/movimientos", `{"deposito_id":1,"tipo":"ingreso","tipo_comprobante":"remito"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var movement Movement
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &movement))

	path := fmt.Sprintf("/api/movimientos/%d", movement.ID)
	rr = doJSON(t, router, http.MethodPost, path+"/items", fmt.Sprintf(`{"stock_item_id":%d,"cantidad":3}`, item.ID))
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = doJSON(t, router, http.MethodPost, path+"/confirmar", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 5.0, repo.items[item.ID].Qty)

	rr = doJSON(t, router, http.MethodPost, "/api/movimientos", `{"deposito_id":1,"tipo":"ajuste"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
