// Package metrics defines the Prometheus collectors of the client daemon
// and the development relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmsync_frames_sent_total",
			Help: "Frames written to the relay",
		},
		[]string{"event"},
	)

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmsync_frames_received_total",
			Help: "Frames read from the relay",
		},
		[]string{"event"},
	)

	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmsync_send_failures_total",
			Help: "Sends refused because the connection was down or the write failed",
		},
		[]string{"event"},
	)

	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dmsync_reconnect_attempts_total",
			Help: "Reconnect attempts",
		},
	)

	PingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dmsync_ping_latency_seconds",
			Help:    "Relay ping/pong round trip",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// Business metrics
	Edits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmsync_edits_total",
			Help: "Message edits by outcome",
		},
		[]string{"result"}, // "applied", "queued", "rejected", "remote", "stale"
	)

	OptimisticActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmsync_optimistic_actions_total",
			Help: "Optimistic interactions by kind and outcome",
		},
		[]string{"kind", "result"}, // result: "confirmed", "rolled_back", "busy"
	)

	SearchCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmsync_search_cache_total",
			Help: "Remote search cache lookups",
		},
		[]string{"result"}, // "hit" or "miss"
	)

	// Relay metrics
	RelayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmrelay_connections",
			Help: "Open client connections",
		},
	)

	RelayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmrelay_events_total",
			Help: "Events handled by the relay",
		},
		[]string{"event"},
	)
)
