// Package metrics holds the Prometheus collectors for the watch service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lecture"

// Stage labels for StageDuration.
const (
	StageExtract    = "extract"
	StageIdentify   = "identify"
	StageSynthesize = "synthesize"
	StagePersist    = "persist"
	StageExport     = "export"
)

// Metrics is one registry and its collectors. Each Service owns its own, so
// tests can create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	FilesDetected   prometheus.Counter
	FilesSkipped    *prometheus.CounterVec
	Outcomes        *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	InFlight        prometheus.Gauge
	Identifications *prometheus.CounterVec
	NotifyFailures  prometheus.Counter
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		FilesDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_detected_total",
			Help:      "Recordings that became stable and were dispatched.",
		}),
		FilesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Watcher events that were not dispatched, by reason.",
		}, []string{"reason"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notes_total",
			Help:      "Persisted voice notes by terminal status.",
		}, []string{"status"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each processing stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "files_in_flight",
			Help:      "Recordings currently being processed.",
		}),
		Identifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identifications_total",
			Help:      "Identification results by winning method; none when nothing matched.",
		}, []string{"method"}),
		NotifyFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be delivered.",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "course_cache_hits_total",
			Help:      "Course list lookups served from the cache.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "course_cache_misses_total",
			Help:      "Course list lookups that went to the store.",
		}),
	}
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordOutcome counts a persisted note.
func (m *Metrics) RecordOutcome(status string) {
	m.Outcomes.WithLabelValues(status).Inc()
}

// RecordIdentification counts the method that produced the kept result.
func (m *Metrics) RecordIdentification(method string) {
	if method == "" {
		method = "none"
	}
	m.Identifications.WithLabelValues(method).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
