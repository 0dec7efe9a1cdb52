// Package metrics exposes Prometheus instrumentation for the scoring pipeline
// and the streaming search engine. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "job_matcher"

// Metrics groups every collector registered by the service.
type Metrics struct {
	registry *prometheus.Registry

	tasks          *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	aiDuration     *prometheus.HistogramVec
	completions    prometheus.Counter
	activeSessions prometheus.Gauge
	searchEvents   *prometheus.CounterVec
	queueRequeued  prometheus.Counter
}

// New creates the collectors and registers them on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Scoring tasks processed, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scoring_fallbacks_total",
				Help:      "Scores computed by the deterministic fallback, by reason",
			},
			[]string{"reason"},
		),
		aiDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ai_call_duration_seconds",
				Help:      "Latency of the external scoring capability",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
			},
			[]string{"result"},
		),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_completions_total",
			Help:      "Jobs whose scoring aggregate reached COMPLETE",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "search_sessions_active",
			Help:      "Streaming search sessions currently running",
		}),
		searchEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_events_total",
				Help:      "Events emitted by streaming searches, by type",
			},
			[]string{"type"},
		),
		queueRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_requeued_total",
			Help:      "Deliveries returned to the queue after their lease expired",
		}),
	}

	m.registry.MustRegister(
		m.tasks,
		m.fallbacks,
		m.aiDuration,
		m.completions,
		m.activeSessions,
		m.searchEvents,
		m.queueRequeued,
		prometheus.NewGoCollector(),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) TaskProcessed(kind, outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Fallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveAICall(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.aiDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) JobCompleted() {
	if m == nil {
		return
	}
	m.completions.Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionFinished() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) SearchEvent(eventType string) {
	if m == nil {
		return
	}
	m.searchEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Requeued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.queueRequeued.Add(float64(n))
}
