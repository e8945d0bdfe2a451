package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the verification service
type Metrics struct {
	registry *prometheus.Registry

	SessionsTotal     prometheus.Counter
	DocumentChecks    *prometheus.CounterVec
	CaptureLoops      *prometheus.CounterVec
	ExtractionLatency prometheus.Histogram
	Distances         prometheus.Histogram
}

// New creates all metrics on a dedicated registry, together with the Go runtime collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "idv_sessions_created_total",
			Help: "Total number of verification sessions created",
		}),
		DocumentChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idv_document_checks_total",
			Help: "Document verification outcomes",
		}, []string{"outcome"}),
		CaptureLoops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idv_capture_loops_total",
			Help: "Live capture loop outcomes",
		}, []string{"outcome"}),
		ExtractionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "idv_live_extraction_seconds",
			Help:    "Time to extract a face template from a live frame",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		Distances: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "idv_match_distance",
			Help:    "Distance between live and document face templates",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}
}

func (m *Metrics) SessionCreated() {
	m.SessionsTotal.Inc()
}

func (m *Metrics) DocumentOutcome(outcome string) {
	m.DocumentChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CaptureOutcome(outcome string) {
	m.CaptureLoops.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LiveExtraction(latency time.Duration) {
	m.ExtractionLatency.Observe(latency.Seconds())
}

func (m *Metrics) MatchDistance(distance float64) {
	m.Distances.Observe(distance)
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
