/*
Package metrics exposes Prometheus metrics for the settlement engine and
the HTTP API.

METRICS:
  splitledger_settlement_computes_total{mode,outcome}
  splitledger_settlement_compute_duration_seconds{mode}
  splitledger_settlement_finalizes_total{status}
  splitledger_settlement_finalize_duration_seconds
  splitledger_settlement_archived_payments_total
  splitledger_http_requests_total{method,route,code}
  splitledger_http_request_duration_seconds{method,route}

Metrics implements settlement.Observer, so it is wired with
settlement.WithObserver(m). Each Metrics owns its registry; nothing is
registered globally.
*/
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/splitledger/settlement"
)

const namespace = "splitledger"

// Metrics holds the collectors and their registry.
type Metrics struct {
	registry *prometheus.Registry

	computes         *prometheus.CounterVec
	computeDuration  *prometheus.HistogramVec
	finalizes        *prometheus.CounterVec
	finalizeDuration prometheus.Histogram
	archivedPayments prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ settlement.Observer = (*Metrics)(nil)

// New creates a Metrics with Go runtime and process collectors included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		computes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "computes_total",
			Help:      "Settlement computations by group mode and outcome.",
		}, []string{"mode", "outcome"}),
		computeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "compute_duration_seconds",
			Help:      "Time spent computing a settlement.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		finalizes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "finalizes_total",
			Help:      "Finalize calls by status (created, duplicate, failed).",
		}, []string{"status"}),
		finalizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "finalize_duration_seconds",
			Help:      "Time spent finalizing a settlement, lock wait included.",
			Buckets:   prometheus.DefBuckets,
		}),
		archivedPayments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "archived_payments_total",
			Help:      "Recorded payments consumed by finalized settlements.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.computes,
		m.computeDuration,
		m.finalizes,
		m.finalizeDuration,
		m.archivedPayments,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCompute records one Engine.Compute call.
func (m *Metrics) ObserveCompute(mode settlement.Mode, d time.Duration, err error) {
	label := string(mode)
	if label == "" {
		label = "unknown"
	}
	m.computes.WithLabelValues(label, outcome(err)).Inc()
	m.computeDuration.WithLabelValues(label).Observe(d.Seconds())
}

// ObserveFinalize records one Engine.Finalize call.
func (m *Metrics) ObserveFinalize(status settlement.FinalizeStatus, d time.Duration, archived int) {
	m.finalizes.WithLabelValues(string(status)).Inc()
	m.finalizeDuration.Observe(d.Seconds())
	m.archivedPayments.Add(float64(archived))
}

// Middleware counts requests by chi route pattern, so path parameters do
// not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, settlement.ErrValidation):
		return "validation"
	case errors.Is(err, settlement.ErrNotFound):
		return "not_found"
	case errors.Is(err, settlement.ErrConsistency):
		return "consistency"
	default:
		return "error"
	}
}
