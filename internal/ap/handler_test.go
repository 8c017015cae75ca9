package ap

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

func newTestRouter(f fixture) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc)
	r := chi.NewRouter()
	r.Use(shared.ActorMiddleware)
	r.Route("/api", h.MountRoutes)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(shared.ActorHeader, "2")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestInvoiceEndpoints(t *testing.T) {
	f := newFixture()
	f.seedPO(1, 1, filtros())
	router := newTestRouter(f)

	rr := doJSON(t, router, http.MethodPost, "/api/facturas-proveedor/desde-oc",
		`{"orden_compra_id":1,"numero_factura":"A-0001-00000042","fecha_emision":"2025-04-01"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var inv Invoice
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &inv))
	require.Equal(t, 1210.0, inv.Total)
	require.Equal(t, "2025-05-01", inv.DueDate.Format("2006-01-02"))

	base := fmt.Sprintf("/api/facturas-proveedor/%d", inv.ID)
	rr = doJSON(t, router, http.MethodPost, base+"/pagos", `{"fecha_pago":"2025-04-10","medio_pago":"TRANSFERENCIA","monto":500}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var result PaymentResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Equal(t, 710.0, result.Invoice.Balance)
	require.Equal(t, InvoicePartial, result.Invoice.Status)

	rr = doJSON(t, router, http.MethodGet, base+"/pagos", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var payments struct {
		Items []Payment `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payments))
	require.Len(t, payments.Items, 1)

	rr = doJSON(t, router, http.MethodGet, "/api/facturas-proveedor/aging?fecha=2025-05-20", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var report AgingReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	require.Equal(t, 710.0, report.Days1To30)

	rr = doJSON(t, router, http.MethodPost, base+"/anular", `{"motivo":"error de carga"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, http.MethodPost, base+"/pagos", `{"monto":10}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "no se puede registrar un pago sobre una factura anulada", problem.Detail)

	rr = doJSON(t, router, http.MethodGet, "/api/facturas-proveedor?estado=ANULADA", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Items []Invoice `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
}

func TestMultiplePaymentEndpoint(t *testing.T) {
	f := newFixture()
	f.seedPO(1, 1, filtros())
	router := newTestRouter(f)
	rr := doJSON(t, router, http.MethodPost, "/api/facturas-proveedor/desde-oc",
		`{"orden_compra_id":1,"numero_factura":"A-1","fecha_emision":"2025-04-01"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var inv Invoice
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &inv))

	body := fmt.Sprintf(`{"proveedor_id":1,"facturas":[%d],"medios":[{"medio_pago":"CHEQUE","monto":1000}]}`, inv.ID)
	rr = doJSON(t, router, http.MethodPost, "/api/facturas-proveedor/pagos-multiples", body)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	body = fmt.Sprintf(`{"proveedor_id":1,"facturas":[%d],"medios":[{"medio_pago":"CHEQUE","monto":1000},{"monto":210}]}`, inv.ID)
	rr = doJSON(t, router, http.MethodPost, "/api/facturas-proveedor/pagos-multiples", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var result MultiPaymentResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Len(t, result.Payments, 2)
	require.Equal(t, InvoicePaid, result.Invoices[0].Status)

	rr = doJSON(t, router, http.MethodPost, "/api/facturas-proveedor/pagos-multiples", `{"proveedor_id":1,"facturas":[],"medios":[]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInvoiceEndpointErrors(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)

	rr := doJSON(t, router, http.MethodGet, "/api/facturas-proveedor/77", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/api/facturas-proveedor/desde-oc", `{"orden_compra_id":5,"numero_factura":"X","fecha_emision":"01/04/2025"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/api/facturas-proveedor/desde-oc", `{"orden_compra_id":5,"numero_factura":"X","fecha_emision":"2025-04-01"}`)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, router, http.MethodGet, "/api/facturas-proveedor?estado=BORRADO", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
