// Package metrics holds the Prometheus collectors of the medtrack binaries.
// Every method is safe on a nil *Metrics so components can run without
// instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medtrack"

// Metrics is a private registry plus the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	dispenses       *prometheus.CounterVec
	unitsDispensed  prometheus.Counter
	partialWarnings prometheus.Counter
	withdrawals     prometheus.Counter
	syncIntents     *prometheus.CounterVec
	syncQueueDepth  prometheus.Gauge
	importRows      *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		dispenses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispenses_total",
			Help:      "Dispense allocations by mode and outcome",
		}, []string{"mode", "outcome"}),
		unitsDispensed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_dispensed_total",
			Help:      "Units removed from inventory by dispenses",
		}),
		partialWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partial_application_warnings_total",
			Help:      "Inventory changes applied without their matching log row",
		}),
		withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispense_withdrawals_total",
			Help:      "Dispensing records withdrawn",
		}),
		syncIntents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_intents_total",
			Help:      "Offline intents handled by queue flushes, by result",
		}, []string{"result"}),
		syncQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_depth",
			Help:      "Offline intents waiting to be flushed",
		}),
		importRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Bulk import rows by result",
		}, []string{"result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_cache_lookups_total",
			Help:      "Derived stock cache lookups by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.requestDuration, m.requestTotal,
		m.dispenses, m.unitsDispensed, m.partialWarnings, m.withdrawals,
		m.syncIntents, m.syncQueueDepth, m.importRows, m.cacheLookups,
		collectors.NewGoCollector(),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Middleware records request duration and count by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{"method": r.Method, "route": route, "status": strconv.Itoa(status)}
		m.requestDuration.With(labels).Observe(time.Since(start).Seconds())
		m.requestTotal.With(labels).Inc()
	})
}

// ObserveDispense records one allocation.
func (m *Metrics) ObserveDispense(mode, outcome string, units, warnings int) {
	if m == nil {
		return
	}
	m.dispenses.WithLabelValues(mode, outcome).Inc()
	m.unitsDispensed.Add(float64(units))
	m.partialWarnings.Add(float64(warnings))
}

func (m *Metrics) ObserveWithdraw() {
	if m == nil {
		return
	}
	m.withdrawals.Inc()
}

// ObserveFlush records the outcome counts of one queue flush and the
// depth left behind.
func (m *Metrics) ObserveFlush(processed, failed, cancelled, remaining int) {
	if m == nil {
		return
	}
	m.syncIntents.WithLabelValues("processed").Add(float64(processed))
	m.syncIntents.WithLabelValues("failed").Add(float64(failed))
	m.syncIntents.WithLabelValues("cancelled").Add(float64(cancelled))
	m.syncQueueDepth.Set(float64(remaining))
}

// SetQueueDepth records the pending intent count.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.syncQueueDepth.Set(float64(n))
}

func (m *Metrics) ObserveImport(success, failed int) {
	if m == nil {
		return
	}
	m.importRows.WithLabelValues("success").Add(float64(success))
	m.importRows.WithLabelValues("failed").Add(float64(failed))
}

// ObserveCacheLookup counts a stock cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
