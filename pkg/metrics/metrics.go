// Package metrics exposes Prometheus collectors for jobs, the result cache,
// the janitor and the HTTP surface. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spotdl"

// Metrics holds the service collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal           *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
	jobsInFlight        prometheus.Gauge
	cacheLookups        *prometheus.CounterVec
	janitorRemoved      *prometheus.CounterVec
	janitorSweep        prometheus.Histogram
	registryEntries     prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Jobs finished, by kind and result.",
			},
			[]string{"kind", "result"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall-clock duration of finished jobs.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120, 300, 900, 1800},
			},
			[]string{"kind"},
		),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently running the acquisition tool.",
		}),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Result cache lookups by outcome.",
			},
			[]string{"result"},
		),
		janitorRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "janitor",
				Name:      "removed_total",
				Help:      "Items removed by the janitor, by target.",
			},
			[]string{"target"},
		),
		janitorSweep: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "janitor",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of janitor sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		registryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_entries",
			Help:      "Issued download links held by the temporary file registry.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests processed.",
			},
			[]string{"method", "route", "code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsTotal, m.jobDuration, m.jobsInFlight,
		m.cacheLookups,
		m.janitorRemoved, m.janitorSweep,
		m.registryEntries,
		m.httpRequestsTotal, m.httpRequestDuration,
	)
	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// JobStarted increments the in-flight gauge
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsInFlight.Inc()
}

// JobFinished records a finished job and decrements the in-flight gauge
func (m *Metrics) JobFinished(kind, result string, started time.Time) {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
	m.jobsTotal.WithLabelValues(kind, result).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// CacheLookup counts a cache hit or miss
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// JanitorRemoved counts items removed in one sweep
func (m *Metrics) JanitorRemoved(target string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.janitorRemoved.WithLabelValues(target).Add(float64(n))
}

// JanitorSweep observes one sweep duration
func (m *Metrics) JanitorSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.janitorSweep.Observe(d.Seconds())
}

// SetRegistryEntries sets the registry size gauge
func (m *Metrics) SetRegistryEntries(n int) {
	if m == nil {
		return
	}
	m.registryEntries.Set(float64(n))
}

// Middleware records request count and latency labelled by the matched
// mux route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.code)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.code = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
