// Package metrics exposes kernel and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mazrean/kiban"
)

// Observer records kernel activity. It implements kiban.Observer.
type Observer struct {
	registry          *prometheus.Registry
	resolutions       *prometheus.CounterVec
	resolveDuration   *prometheus.HistogramVec
	constructions     *prometheus.CounterVec
	constructDuration *prometheus.HistogramVec
	deferrals         *prometheus.CounterVec
	materializations  *prometheus.CounterVec
	httpInFlight      prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

var _ kiban.Observer = (*Observer)(nil)

// New creates an observer whose collectors live in a fresh registry under namespace.
func New(namespace string) *Observer {
	o := &Observer{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kernel",
				Name:      "resolutions_total",
				Help:      "Total number of top-level resolutions.",
			},
			[]string{"identity", "result"},
		),
		resolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "kernel",
				Name:      "resolution_duration_seconds",
				Help:      "Duration of top-level resolutions.",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
			},
			[]string{"identity"},
		),
		constructions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kernel",
				Name:      "constructions_total",
				Help:      "Total number of constructor invocations.",
			},
			[]string{"identity", "result"},
		),
		constructDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "kernel",
				Name:      "construction_duration_seconds",
				Help:      "Duration of constructor invocations.",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"identity"},
		),
		deferrals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kernel",
				Name:      "deferred_slots_total",
				Help:      "Total number of dependency slots filled with a lazy handle.",
			},
			[]string{"holder", "reason"},
		),
		materializations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kernel",
				Name:      "materializations_total",
				Help:      "Total number of lazy handle materializations.",
			},
			[]string{"identity", "result"},
		),
		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "inflight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "path"},
		),
	}

	o.registry.MustRegister(
		o.resolutions,
		o.resolveDuration,
		o.constructions,
		o.constructDuration,
		o.deferrals,
		o.materializations,
		o.httpInFlight,
		o.httpRequests,
		o.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)

	return o
}

// Registry returns the registry holding the observer's collectors.
func (o *Observer) Registry() *prometheus.Registry {
	return o.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

func (o *Observer) Resolved(id kiban.Identity, elapsed time.Duration, err error) {
	o.resolutions.WithLabelValues(id.String(), result(err)).Inc()
	o.resolveDuration.WithLabelValues(id.String()).Observe(elapsed.Seconds())
}

func (o *Observer) Constructed(id kiban.Identity, elapsed time.Duration, err error) {
	o.constructions.WithLabelValues(id.String(), result(err)).Inc()
	o.constructDuration.WithLabelValues(id.String()).Observe(elapsed.Seconds())
}

func (o *Observer) Deferred(holder kiban.Identity, _ int, forward bool) {
	reason := "cycle"
	if forward {
		reason = "forward-ref"
	}
	o.deferrals.WithLabelValues(holder.String(), reason).Inc()
}

func (o *Observer) Materialized(id kiban.Identity, err error) {
	o.materializations.WithLabelValues(id.String(), result(err)).Inc()
}

// InstrumentHandler wraps next with HTTP metrics collection.
func (o *Observer) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		o.httpInFlight.Inc()
		defer o.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		method := strings.ToUpper(r.Method)

		o.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		o.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
