// Package metrics defines the Prometheus collectors for the coordination
// layer. All metrics live under the "huddle" namespace.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared across components.
type Metrics struct {
	// ActiveConnections is the current size of the connection registry.
	ActiveConnections prometheus.Gauge

	// EventsDelivered counts wire events pushed to live connections, by event name.
	EventsDelivered *prometheus.CounterVec

	// EventsDropped counts events that could not be delivered, by reason
	// ("offline", "buffer_full").
	EventsDropped *prometheus.CounterVec

	// MessagesTotal counts messages appended to the ledger.
	MessagesTotal prometheus.Counter

	// CallsTotal counts call attempts, by call type.
	CallsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with the given registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "huddle",
			Name:      "active_connections",
			Help:      "Number of live WebSocket connections in the registry",
		}),
		EventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle",
			Name:      "events_delivered_total",
			Help:      "Wire events pushed to live connections",
		}, []string{"event"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle",
			Name:      "events_dropped_total",
			Help:      "Events dropped instead of delivered",
		}, []string{"reason"}),
		MessagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle",
			Name:      "messages_total",
			Help:      "Messages appended to the conversation ledger",
		}),
		CallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle",
			Name:      "calls_total",
			Help:      "Call attempts relayed",
		}, []string{"type"}),
	}
}
