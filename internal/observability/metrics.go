package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	receipts           *prometheus.CounterVec
	stockConfirmations *prometheus.CounterVec
	stockLines         *prometheus.CounterVec
	payments           prometheus.Counter
	paidInvoices       prometheus.Counter
	paidAmount         prometheus.Counter
	ordersClosed       prometheus.Counter
}

// NewMetrics initialises the registry with HTTP and domain metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flota_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flota_http_request_duration_seconds",
			Help:    "HTTP request duration per route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flota_po_receipts_total",
			Help: "Purchase order receipts by stock posting outcome.",
		}, []string{"stock"}),
		stockConfirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flota_stock_confirmations_total",
			Help: "Confirmed transfers and movements.",
		}, []string{"kind"}),
		stockLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flota_stock_confirmed_lines_total",
			Help: "Lines applied to stock by confirmations.",
		}, []string{"kind"}),
		payments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flota_supplier_payments_total",
			Help: "Registered supplier payment operations.",
		}),
		paidInvoices: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flota_supplier_paid_invoices_total",
			Help: "Invoices touched by supplier payments.",
		}),
		paidAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flota_supplier_paid_amount_total",
			Help: "Sum of supplier payment amounts, excluding retentions.",
		}),
		ordersClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flota_po_closed_by_payment_total",
			Help: "Purchase orders closed because every invoice was settled.",
		}),
	}
	registry.MustRegister(m.requestsTotal, m.requestDuration, m.receipts, m.stockConfirmations,
		m.stockLines, m.payments, m.paidInvoices, m.paidAmount, m.ordersClosed)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for job metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveReceipt counts a purchase order receipt.
func (m *Metrics) ObserveReceipt(stockDeferred bool) {
	if m == nil {
		return
	}
	outcome := "posted"
	if stockDeferred {
		outcome = "deferred"
	}
	m.receipts.WithLabelValues(outcome).Inc()
}

// ObserveStockConfirmation counts a confirmed transfer or movement.
func (m *Metrics) ObserveStockConfirmation(kind string, lines int) {
	if m == nil {
		return
	}
	m.stockConfirmations.WithLabelValues(kind).Inc()
	m.stockLines.WithLabelValues(kind).Add(float64(lines))
}

// ObservePayment counts a payment operation.
func (m *Metrics) ObservePayment(invoices int, amount float64) {
	if m == nil {
		return
	}
	m.payments.Inc()
	m.paidInvoices.Add(float64(invoices))
	if amount > 0 {
		m.paidAmount.Add(amount)
	}
}

// ObservePOClosed counts an order closed by the payment cascade.
func (m *Metrics) ObservePOClosed() {
	if m == nil {
		return
	}
	m.ordersClosed.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
