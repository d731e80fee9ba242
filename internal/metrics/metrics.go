package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "beihilfepay"

// Metrics owns a private registry with the HTTP and extraction collectors
type Metrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	extractionRuns *prometheus.CounterVec
	engineFailures *prometheus.CounterVec
	ocrDuration    *prometheus.HistogramVec
	notifyFailures prometheus.Counter
}

// New creates the collectors and registers them
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
		},
	)
	extractionRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "runs_total",
			Help:      "Extraction runs by strategy, method and outcome.",
		},
		[]string{"strategy", "method", "outcome"},
	)
	engineFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "engine_failures_total",
			Help:      "Failed calls to the remote extraction service by kind.",
		},
		[]string{"kind"},
	)
	ocrDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ocr",
			Name:      "duration_seconds",
			Help:      "Text recognition duration in seconds by source.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"source"},
	)
	notifyFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Routing notifications that could not be delivered.",
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		extractionRuns,
		engineFailures,
		ocrDuration,
		notifyFailures,
	)

	return &Metrics{
		registry:        registry,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
		extractionRuns:  extractionRuns,
		engineFailures:  engineFailures,
		ocrDuration:     ocrDuration,
		notifyFailures:  notifyFailures,
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latencies. Paths are the matched
// route templates so IDs do not explode label cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.requestTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordRun counts one pipeline run
func (m *Metrics) RecordRun(strategy, method, outcome string) {
	if method == "" {
		method = "none"
	}
	m.extractionRuns.WithLabelValues(strategy, method, outcome).Inc()
}

// RecordEngineFailure counts one failed remote extraction call
func (m *Metrics) RecordEngineFailure(kind string) {
	m.engineFailures.WithLabelValues(kind).Inc()
}

// ObserveOCRDuration records how long recognition of one document took
func (m *Metrics) ObserveOCRDuration(source string, d time.Duration) {
	m.ocrDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RecordNotifyFailure counts one undelivered routing notification
func (m *Metrics) RecordNotifyFailure() {
	m.notifyFailures.Inc()
}
