package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	upstreamRequestsTotal *prometheus.CounterVec
	upstreamDuration      *prometheus.HistogramVec
	admissionDecisions    *prometheus.CounterVec
	pipelineOutcomes      *prometheus.CounterVec
	pipelineDuration      *prometheus.HistogramVec
	translatedUnits       prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livetranslate_http_requests_total",
				Help: "Total number of HTTP requests handled.",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "livetranslate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
		upstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livetranslate_upstream_requests_total",
				Help: "Total upstream OpenAI-compatible API requests.",
			},
			[]string{"endpoint", "status"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "livetranslate_upstream_request_duration_seconds",
				Help:    "Upstream request duration in seconds, including the streamed body.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"endpoint", "status"},
		),
		admissionDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livetranslate_admission_decisions_total",
				Help: "Admission decisions for translate-stream requests.",
			},
			[]string{"decision"},
		),
		pipelineOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livetranslate_pipeline_outcomes_total",
				Help: "Terminal outcomes of translation pipelines.",
			},
			[]string{"outcome"},
		),
		pipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "livetranslate_pipeline_duration_seconds",
				Help:    "Pipeline duration from start to terminal event.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 240},
			},
			[]string{"outcome"},
		),
		translatedUnits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "livetranslate_translated_units_total",
				Help: "Sentence units handed to the translation stage.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.upstreamRequestsTotal,
		m.upstreamDuration,
		m.admissionDecisions,
		m.pipelineOutcomes,
		m.pipelineDuration,
		m.translatedUnits,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RegisterInFlight(inFlight func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "livetranslate_upstream_inflight",
			Help: "Upstream call slots currently held.",
		},
		func() float64 { return float64(inFlight()) },
	))
}

func (m *Metrics) ObserveHTTP(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "UNKNOWN"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(route, method, statusLabel).Inc()
	m.httpRequestDuration.WithLabelValues(route, method, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObserveUpstream(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	statusLabel := strconv.Itoa(status)
	m.upstreamRequestsTotal.WithLabelValues(endpoint, statusLabel).Inc()
	m.upstreamDuration.WithLabelValues(endpoint, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObserveAdmission(decision string) {
	if m == nil {
		return
	}
	m.admissionDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) ObservePipeline(outcome string, units int, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.pipelineOutcomes.WithLabelValues(outcome).Inc()
	m.pipelineDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.translatedUnits.Add(float64(units))
}
