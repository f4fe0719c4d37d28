package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the API
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	EngagementOps *prometheus.CounterVec

	ReportGenerations        *prometheus.CounterVec
	ReportGenerationDuration prometheus.Histogram

	PageCacheLookups *prometheus.CounterVec
	MediaUploads     *prometheus.CounterVec
}

// New registers every metric on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studyhub_http_requests_total",
				Help: "Total number of HTTP requests by method and status",
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "studyhub_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		EngagementOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studyhub_engagement_operations_total",
				Help: "Committed engagement mutations by operation and entity kind",
			},
			[]string{"op", "kind"},
		),
		ReportGenerations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studyhub_report_generations_total",
				Help: "Report generation attempts by outcome",
			},
			[]string{"outcome"},
		),
		ReportGenerationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "studyhub_report_generation_duration_seconds",
			Help:    "Wall-clock time spent generating topic reports",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		PageCacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studyhub_page_cache_lookups_total",
				Help: "Page cache lookups by result",
			},
			[]string{"result"},
		),
		MediaUploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studyhub_media_uploads_total",
				Help: "Evidence image uploads by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records one served request
func (m *Metrics) RecordHTTPRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveEngagement records a committed like, unlike, comment or purge.
func (m *Metrics) ObserveEngagement(op, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.EngagementOps.WithLabelValues(op, kind).Inc()
}

// RecordReportGeneration records one generation attempt
func (m *Metrics) RecordReportGeneration(duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.ReportGenerations.WithLabelValues(outcome).Inc()
	m.ReportGenerationDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordPageCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PageCacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordMediaUpload(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.MediaUploads.WithLabelValues(outcome).Inc()
}
