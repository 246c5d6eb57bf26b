// Package metrics provides Prometheus instrumentation for pairchat. The CLI
// exposes these on an optional debug port and the dev pairing server serves
// them alongside its own counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts conversation events processed, labeled by
	// direction: "sent", "received", or "duplicate" (inbound events dropped
	// by id-based deduplication).
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_messages_total",
		Help: "Total number of conversation events processed",
	}, []string{"direction"}) // direction = "sent", "received", "duplicate"

	// SessionTransitions counts session state machine transitions by target
	// state.
	SessionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_session_transitions_total",
		Help: "Total number of session state transitions",
	}, []string{"state"})

	// Requeues counts next-chat cycles.
	Requeues = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_requeues_total",
		Help: "Total number of next-chat requeues",
	})

	// StaleEventsDropped counts inbound events discarded because their
	// connection generation was superseded by a requeue.
	StaleEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_stale_events_dropped_total",
		Help: "Inbound events discarded as belonging to a superseded attempt",
	})

	// UsersOnline tracks the last user_count reported by the server.
	UsersOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairchat_users_online",
		Help: "Users online as last reported by the pairing server",
	})

	// VoiceUploadSeconds records voice note upload latency.
	VoiceUploadSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairchat_voice_upload_seconds",
		Help:    "Voice note upload latency in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		SessionTransitions,
		Requeues,
		StaleEventsDropped,
		UsersOnline,
		VoiceUploadSeconds,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
