// Package metrics defines the observatory's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles every collector the background tasks and the server report to.
type Set struct {
	// Traffic: accepted bus events merged into the store.
	EventsIngested prometheus.Counter

	// Errors: malformed bus lines sent to the invalid archive.
	InvalidLines prometheus.Counter

	// Traffic: transcript records mirrored onto the bus by the bridge.
	BridgeRecords prometheus.Counter

	// Poll cycles by outcome (ok, error).
	PollCycles *prometheus.CounterVec

	// Control-plane channel availability (1=responding, 0=unavailable).
	ChannelUp *prometheus.GaugeVec

	// Saturation: currently tracked agents and connected push subscribers.
	TrackedAgents prometheus.Gauge
	Subscribers   prometheus.Gauge
}

// New registers all collectors against reg. A nil registerer falls back to
// a private registry so tests can construct a Set without wiring.
func New(reg prometheus.Registerer) *Set {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Set{
		EventsIngested: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "observatory_bus_events_total",
			Help: "Total number of bus events merged into agent state.",
		}),
		InvalidLines: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "observatory_bus_invalid_lines_total",
			Help: "Total number of malformed bus lines archived.",
		}),
		BridgeRecords: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "observatory_bridge_records_total",
			Help: "Total number of transcript records mirrored to the bus.",
		}),
		PollCycles: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "observatory_core_poll_cycles_total",
			Help: "Total number of control-plane poll cycles by outcome.",
		}, []string{"outcome"}),
		ChannelUp: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "observatory_core_channel_up",
			Help: "Control-plane channel availability (1=up, 0=unavailable).",
		}, []string{"channel"}),
		TrackedAgents: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "observatory_tracked_agents",
			Help: "Number of agents currently tracked in the state store.",
		}),
		Subscribers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "observatory_push_subscribers",
			Help: "Number of connected websocket subscribers.",
		}),
	}
}
