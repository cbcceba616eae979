// Package metrics содержит метрики Prometheus сервиса.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmeshcher/marketplace-ledger/internal/model"
)

// Metrics объединяет метрики HTTP-слоя, журнала и сверки платежей.
// Нулевой указатель допустим: все методы становятся пустыми.
type Metrics struct {
	registry      *prometheus.Registry
	duration      *prometheus.SummaryVec
	requests      *prometheus.CounterVec
	ledgerEntries *prometheus.CounterVec
	ledgerAmount  *prometheus.CounterVec
	reconciled    *prometheus.CounterVec
	dropped       prometheus.Counter
}

// New регистрирует метрики в новом реестре.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		duration: factory.NewSummaryVec(
			prometheus.SummaryOpts{
				Name: "http_request_duration_seconds",
				Help: "HTTP request duration in seconds",
				Objectives: map[float64]float64{
					0.5:  0.05,
					0.9:  0.01,
					0.95: 0.005,
					0.99: 0.001,
				},
			},
			[]string{"method", "path", "status_code"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		ledgerEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_entries_total",
				Help: "Number of wallet ledger entries posted",
			},
			[]string{"type"},
		),
		ledgerAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_amount_minor_units_total",
				Help: "Sum of posted ledger amounts in minor currency units",
			},
			[]string{"type"},
		),
		reconciled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_reconciled_total",
				Help: "Payment verification outcomes",
			},
			[]string{"source", "outcome"},
		),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "notifications_dropped_total",
			Help: "Notifications dropped because the queue was full",
		}),
	}
}

// Handler отдаёт метрики в формате Prometheus. Сжатие ответа выполняет GzipMiddleware.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{DisableCompression: true})
}

// Middleware учитывает длительность и количество HTTP-запросов по шаблону маршрута.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)

		m.duration.WithLabelValues(r.Method, path, code).Observe(time.Since(start).Seconds())
		m.requests.WithLabelValues(r.Method, path, code).Inc()
	})
}

// LedgerEntry учитывает проводку журнала.
func (m *Metrics) LedgerEntry(typ model.EntryType, amount int64) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(string(typ)).Inc()
	m.ledgerAmount.WithLabelValues(string(typ)).Add(float64(amount))
}

// Reconciled учитывает результат проверки платежа (source: webhook, verify, sweep).
func (m *Metrics) Reconciled(source, outcome string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(source, outcome).Inc()
}

// NotificationDropped учитывает отброшенное уведомление.
func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
