// ABOUTME: Prometheus collectors for the world runtime
// ABOUTME: Registered on the default registry at package init via promauto

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentworld_events_published_total",
			Help: "Total events published on world buses",
		},
		[]string{"topic"},
	)

	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentworld_event_persist_failures_total",
			Help: "Events delivered but not written to the event log",
		},
	)

	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentworld_event_validation_failures_total",
			Help: "Publishes rejected because the payload failed validation",
		},
		[]string{"type"},
	)

	RemoteEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentworld_remote_events_total",
			Help: "Events consumed from the broker",
		},
		[]string{"result"}, // "delivered", "echo", "invalid"
	)

	// World lifecycle metrics
	WorldLoads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentworld_world_loads_total",
			Help: "Total world loads",
		},
	)

	WorldUnloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentworld_world_unloads_total",
			Help: "Total world unloads",
		},
	)

	WorldsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentworld_worlds_loaded",
			Help: "Worlds currently loaded",
		},
	)

	// Approval metrics
	ApprovalChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentworld_approval_checks_total",
			Help: "Tool approval checks by outcome",
		},
		[]string{"outcome"}, // "approved", "denied", "awaiting_decision"
	)
)
