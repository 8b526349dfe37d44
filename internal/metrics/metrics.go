// ABOUTME: Prometheus instrumentation for the synchronization engine
// ABOUTME: Counters for reconciliations, broadcasts, snapshot saves and agent calls

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the engine exports. All collectors are
// registered on a private registry so tests can create instances freely.
type Metrics struct {
	registry *prometheus.Registry

	Reconciliations   *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
	DeliveryFailures  prometheus.Counter
	SnapshotSaves     *prometheus.CounterVec
	AgentCalls        *prometheus.CounterVec
	ObserversGauge    prometheus.Gauge
	DuplicateRequests prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipedeck_reconciliations_total",
			Help: "Payload reconciliations by target and outcome.",
		}, []string{"target", "outcome"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipedeck_events_published_total",
			Help: "Events published to connected observers, by event type.",
		}, []string{"type"}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipedeck_delivery_failures_total",
			Help: "Observer deliveries that failed and caused deregistration.",
		}),
		SnapshotSaves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipedeck_snapshot_saves_total",
			Help: "Snapshot persistence attempts by outcome.",
		}, []string{"outcome"}),
		AgentCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipedeck_agent_calls_total",
			Help: "Calls to remote agents by role and outcome.",
		}, []string{"role", "outcome"}),
		ObserversGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pipedeck_observers_connected",
			Help: "Currently connected view observers.",
		}),
		DuplicateRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipedeck_duplicate_requests_total",
			Help: "Submissions dropped by the duplicate filter.",
		}),
	}
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventPublished satisfies the broadcast hub's metrics hook.
func (m *Metrics) EventPublished(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// DeliveryFailed satisfies the broadcast hub's metrics hook.
func (m *Metrics) DeliveryFailed() {
	m.DeliveryFailures.Inc()
}
