// Package metrics provides Prometheus metrics for the results ingestion.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Game outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "failed"
)

// Manager owns the collectors. A nil *Manager is a valid no-op recorder.
type Manager struct {
	namespace string
	subsystem string
	buckets   []float64
	registry  *prometheus.Registry

	games         *prometheus.CounterVec
	results       prometheus.Counter
	discrepancies prometheus.Counter
	teamsCreated  prometheus.Counter
	rowsSkipped   *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	runDuration   prometheus.Histogram
	lastRunUnix   prometheus.Gauge
}

type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithSubsystem sets the subsystem for all metrics.
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) {
		if subsystem != "" {
			m.subsystem = subsystem
		}
	}
}

// WithHistogramBuckets sets custom buckets (seconds) for duration metrics.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.buckets = buckets
		}
	}
}

// WithRegistry registers collectors on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "quiz",
		subsystem: "results",
		buckets:   prometheus.DefBuckets,
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	auto := promauto.With(m.registry)
	m.games = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "games_total",
		Help:      "Games handled by outcome",
	}, []string{"outcome"})
	m.results = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rows_emitted_total",
		Help:      "Game results emitted",
	})
	m.discrepancies = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "discrepancies_total",
		Help:      "Results whose round sum disagrees with the displayed total",
	})
	m.teamsCreated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "teams_created_total",
		Help:      "Teams created on first encounter",
	})
	m.rowsSkipped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rows_skipped_total",
		Help:      "Table rows skipped by reason",
	}, []string{"reason"})
	m.fetchDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fetch_duration_seconds",
		Help:      "Game page fetch duration",
		Buckets:   m.buckets,
	}, []string{"status"})
	m.runDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "run_duration_seconds",
		Help:      "Duration of one pass over pending games",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
	m.lastRunUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "last_run_unixtime",
		Help:      "Completion time of the last pass",
	})
	return m
}

// Registry exposes the underlying registry.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Manager) GameOutcome(outcome string) {
	if m == nil {
		return
	}
	m.games.WithLabelValues(outcome).Inc()
}

func (m *Manager) ResultsEmitted(n, discrepancies int) {
	if m == nil {
		return
	}
	m.results.Add(float64(n))
	m.discrepancies.Add(float64(discrepancies))
}

func (m *Manager) TeamCreated() {
	if m == nil {
		return
	}
	m.teamsCreated.Inc()
}

func (m *Manager) RowSkipped(reason string) {
	if m == nil {
		return
	}
	m.rowsSkipped.WithLabelValues(reason).Inc()
}

func (m *Manager) ObserveFetch(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.fetchDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Manager) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
	m.lastRunUnix.SetToCurrentTime()
}
