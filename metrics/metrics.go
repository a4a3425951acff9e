// Package metrics exposes ledger and HTTP metrics for Prometheus.
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

	"github.com/warp/points-ledger/ledger"
)

const namespace = "points_ledger"

// Metrics owns every collector. Use New with a fresh registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	mutations   *prometheus.CounterVec
	pointsMoved *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	retries     *prometheus.CounterVec
	replays     *prometheus.CounterVec
	codes       *prometheus.CounterVec
	expired     prometheus.Counter
	sweeps      *prometheus.CounterVec

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	rateLimited  prometheus.Counter
	buildInfo    *prometheus.GaugeVec
}

var _ ledger.Observer = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "mutations_total",
			Help: "Committed ledger mutations by operation and entry kind.",
		}, []string{"op", "kind"}),
		pointsMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "points_total",
			Help: "Absolute points moved by committed mutations, by direction.",
		}, []string{"direction"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejections_total",
			Help: "Mutations rejected before commit, by operation and reason.",
		}, []string{"op", "reason"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cas_retries_total",
			Help: "Compare-and-swap attempts lost to a concurrent writer.",
		}, []string{"op"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "idempotent_replays_total",
			Help: "Requests answered from an earlier commit with the same key.",
		}, []string{"op"}),
		codes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "code_transitions_total",
			Help: "Redemption code status transitions.",
		}, []string{"to"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "codes_expired_by_sweeper_total",
			Help: "Codes moved to expired by the background sweeper.",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "expiry_sweeps_total",
			Help: "Expiry sweeper runs by result.",
		}, []string{"result"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "build_info",
			Help: "Build information.",
		}, []string{"version"}),
	}
	m.registry.MustRegister(
		m.mutations, m.pointsMoved, m.rejections, m.retries, m.replays, m.codes,
		m.expired, m.sweeps, m.httpInFlight, m.httpRequests, m.httpDuration,
		m.rateLimited, m.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves /metrics for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SetBuildInfo(version string) {
	m.buildInfo.WithLabelValues(version).Set(1)
}

// =============================================================================
// LEDGER OBSERVER
// =============================================================================

func (m *Metrics) Committed(op string, kind ledger.Kind, delta int64) {
	m.mutations.WithLabelValues(op, string(kind)).Inc()
	if delta >= 0 {
		m.pointsMoved.WithLabelValues("credit").Add(float64(delta))
	} else {
		m.pointsMoved.WithLabelValues("debit").Add(float64(-delta))
	}
}

func (m *Metrics) Rejected(op string, err error) {
	m.rejections.WithLabelValues(op, RejectReason(err)).Inc()
}

func (m *Metrics) Retried(op string)  { m.retries.WithLabelValues(op).Inc() }
func (m *Metrics) Replayed(op string) { m.replays.WithLabelValues(op).Inc() }

func (m *Metrics) CodeTransitioned(to ledger.CodeStatus) {
	m.codes.WithLabelValues(string(to)).Inc()
}

// SweepFinished records one expiry sweep.
func (m *Metrics) SweepFinished(expired int, err error) {
	if err != nil {
		m.sweeps.WithLabelValues("error").Inc()
		return
	}
	m.sweeps.WithLabelValues("ok").Inc()
	m.expired.Add(float64(expired))
}

func (m *Metrics) RateLimited() { m.rateLimited.Inc() }

// RejectReason maps an error to a low-cardinality label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrReasonRequired):
		return "reason_required"
	case errors.Is(err, ledger.ErrInvalidKind):
		return "invalid_kind"
	case errors.Is(err, ledger.ErrContention):
		return "contention"
	case errors.Is(err, ledger.ErrAlreadyReversed):
		return "already_reversed"
	case errors.Is(err, ledger.ErrNotReversible):
		return "not_reversible"
	case errors.Is(err, ledger.ErrCodeActive), errors.Is(err, ledger.ErrCodeUsed), errors.Is(err, ledger.ErrCodeExpired):
		return "code_state"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrIdempotencyKeyReused):
		return "idempotency_key_reused"
	}
	return "other"
}

// =============================================================================
// HTTP
// =============================================================================

// Instrument records in-flight, count and latency per chi route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

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
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
