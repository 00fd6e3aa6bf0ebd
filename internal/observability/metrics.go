// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Job metrics
	JobsSubmitted    prometheus.Counter
	JobsFinished     *prometheus.CounterVec
	RunningJobs      prometheus.Gauge
	PipelineDuration prometheus.Histogram
	FetchRetries     prometheus.Counter

	// Fetch metrics
	ProviderCallLatency *prometheus.HistogramVec
	CacheLookups        *prometheus.CounterVec

	// Explainer metrics
	ExplainerFailures *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Health metrics
	LastCompletedJob prometheus.Gauge
}

// NewMetrics creates a Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "chain_segment"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Total number of analysis jobs accepted",
		}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Total number of jobs reaching a terminal state by error kind",
		}, []string{"state", "kind"}),
		RunningJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "running",
			Help:      "Number of jobs currently in the running state",
		}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "pipeline_duration_seconds",
			Help:      "Time from running to terminal state in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		FetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "fetch_retries_total",
			Help:      "Total number of fetch retries after upstream throttling",
		}),

		ProviderCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_latency_seconds",
			Help:      "Upstream provider call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"call", "outcome"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Activity cache lookups by result",
		}, []string{"result"}),

		ExplainerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "explainer",
			Name:      "failures_total",
			Help:      "Narrative explainer failures by backend",
		}, []string{"backend"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		LastCompletedJob: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_completed_job_timestamp",
			Help:      "Unix timestamp of the last completed job",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordSubmitted counts an accepted job.
func (m *Metrics) RecordSubmitted() {
	if m == nil {
		return
	}
	m.JobsSubmitted.Inc()
}

// JobStarted marks a job as running.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.RunningJobs.Inc()
}

// JobFinished records a terminal transition. kind is empty for completed jobs.
func (m *Metrics) JobFinished(state, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RunningJobs.Dec()
	m.JobsFinished.WithLabelValues(state, kind).Inc()
	m.PipelineDuration.Observe(elapsed.Seconds())
	if kind == "" {
		m.LastCompletedJob.SetToCurrentTime()
	}
}

// RecordRetry counts a throttled fetch that will be retried.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.FetchRetries.Inc()
}

// RecordProviderCall records upstream call latency.
func (m *Metrics) RecordProviderCall(call, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCallLatency.WithLabelValues(call, outcome).Observe(elapsed.Seconds())
}

// RecordCacheLookup counts a cache lookup: hit, miss, stale or error.
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordExplainerFailure counts a failed explainer backend.
func (m *Metrics) RecordExplainerFailure(backend string) {
	if m == nil {
		return
	}
	m.ExplainerFailures.WithLabelValues(backend).Inc()
}

// RecordHTTPRequest records one served request. route is the mux path template.
func (m *Metrics) RecordHTTPRequest(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
