package instrument

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts orchestrated operations and workflow transitions.
type Metrics struct {
	registry    *prometheus.Registry
	operations  *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	transitions *prometheus.CounterVec
}

// NewMetrics registers the collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entityflow_operations_total",
				Help: "Entity operations by table, action and outcome.",
			},
			[]string{"table", "action", "outcome"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entityflow_operation_duration_seconds",
				Help:    "Entity operation latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"table", "action"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entityflow_transitions_total",
				Help: "Workflow transitions by table, transition and outcome.",
			},
			[]string{"table", "transition", "outcome"},
		),
	}
	m.registry.MustRegister(m.operations, m.durations, m.transitions)
	return m
}

// ObserveOperation records one orchestrator call.
func (m *Metrics) ObserveOperation(table, action, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(table, action, outcome).Inc()
	m.durations.WithLabelValues(table, action).Observe(elapsed.Seconds())
}

// ObserveTransition records one workflow transition attempt.
func (m *Metrics) ObserveTransition(table, transition, outcome string) {
	m.transitions.WithLabelValues(table, transition, outcome).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
