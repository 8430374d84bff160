// Package metrics is this server's Prometheus registry: request
// counters/durations plus the dedup/gc counters engine.Recorder feeds,
// grounded on weisyn-go-weisyn's middleware.Metrics (promauto-built
// CounterVec/HistogramVec registered at construction time).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dedupkv"

// Registry holds every metric this server exposes on GET /metrics. Each
// Registry owns a private *prometheus.Registry rather than registering
// against the global default registerer, so constructing more than one
// in the same process (as the test suite does, one per server under
// test) never panics on a duplicate metric name.
type Registry struct {
	reg *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	keysTotal    prometheus.Gauge
	objectsTotal prometheus.Gauge
	dedupHits    prometheus.Counter
	gcObjects    prometheus.Counter
}

// New builds and registers all metrics against a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)
	return &Registry{
		reg: reg,
		requestsTotal: fac.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: fac.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		keysTotal: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keys_total",
			Help:      "Current number of live keys.",
		}),
		objectsTotal: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "objects_total",
			Help:      "Current number of distinct stored objects.",
		}),
		dedupHits: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_hits_total",
			Help:      "PUTs whose content hash already had a stored object.",
		}),
		gcObjects: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_objects_total",
			Help:      "Objects garbage-collected after their last referring key was removed.",
		}),
	}
}

// Handler serves the Prometheus text exposition format for this
// registry's own metrics (not the global default registerer's).
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObservePut implements engine.Recorder.
func (r *Registry) ObservePut(objectWasNew bool) {
	if !objectWasNew {
		r.dedupHits.Inc()
	}
}

// ObserveDelete implements engine.Recorder.
func (r *Registry) ObserveDelete(objectGCed bool) {
	if objectGCed {
		r.gcObjects.Inc()
	}
}

// ObserveGet implements engine.Recorder.
func (r *Registry) ObserveGet() {}

// SetCounts updates the point-in-time key/object gauges. The engine
// calls this after every committed single-op PUT and DELETE, and the
// stats handler on every GET /stats; there is no background poller.
func (r *Registry) SetCounts(keys, objects int) {
	r.keysTotal.Set(float64(keys))
	r.objectsTotal.Set(float64(objects))
}

// Middleware wraps an http.Handler, recording request count and
// duration per route template (not the raw path, to keep label
// cardinality bounded across arbitrary user keys).
func (r *Registry) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, req)
		r.requestsTotal.WithLabelValues(req.Method, route, strconv.Itoa(sw.status)).Inc()
		r.requestDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
