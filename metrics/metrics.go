// Package metrics exposes Prometheus instrumentation for the parse, lookup and aggregation pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics represents the collection of all pipeline metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	CacheLookups     *prometheus.CounterVec
	BackendRequests  *prometheus.CounterVec
	BackendDuration  *prometheus.HistogramVec
	BuildDuration    *prometheus.HistogramVec
	ParseResults     *prometheus.CounterVec
	FindingsTotal    *prometheus.CounterVec
	DocumentsTracked prometheus.Gauge
}

// New creates the metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnlsp_cache_lookups_total",
			Help: "Vulnerability cache lookups by result",
		},
		[]string{"result"},
	)

	m.BackendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnlsp_backend_requests_total",
			Help: "Vulnerability backend requests by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	m.BackendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vulnlsp_backend_request_duration_seconds",
			Help:    "Duration of vulnerability backend requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	m.BuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vulnlsp_build_tool_duration_seconds",
			Help:    "Duration of build tool invocations in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"tool", "outcome"},
	)

	m.ParseResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnlsp_parse_results_total",
			Help: "Manifest parse results by parser and resolution",
		},
		[]string{"parser", "result"},
	)

	m.FindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnlsp_findings_total",
			Help: "Findings published by severity",
		},
		[]string{"severity"},
	)

	m.DocumentsTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vulnlsp_documents_tracked",
			Help: "Number of open manifest documents",
		},
	)

	if reg != nil {
		reg.MustRegister(
			m.CacheLookups,
			m.BackendRequests,
			m.BackendDuration,
			m.BuildDuration,
			m.ParseResults,
			m.FindingsTotal,
			m.DocumentsTracked,
		)
	}

	return m
}

// CacheResult records hits and misses of one cache diff
func (m *Metrics) CacheResult(hits, misses int) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("hit").Add(float64(hits))
	m.CacheLookups.WithLabelValues("miss").Add(float64(misses))
}

// BackendRequest records one backend request
func (m *Metrics) BackendRequest(backend string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(backend, outcome(err)).Inc()
	m.BackendDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// BuildTool records one build tool invocation
func (m *Metrics) BuildTool(tool string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BuildDuration.WithLabelValues(tool, outcome(err)).Observe(elapsed.Seconds())
}

// Parse records the result of parsing one document
func (m *Metrics) Parse(parser string, result string) {
	if m == nil {
		return
	}
	m.ParseResults.WithLabelValues(parser, result).Inc()
}

// Finding records a published finding
func (m *Metrics) Finding(severity string) {
	if m == nil {
		return
	}
	m.FindingsTotal.WithLabelValues(severity).Inc()
}

// Documents sets the number of tracked documents
func (m *Metrics) Documents(n int) {
	if m == nil {
		return
	}
	m.DocumentsTracked.Set(float64(n))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
