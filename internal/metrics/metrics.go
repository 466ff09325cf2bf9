// ABOUTME: Prometheus collectors shared by the event log, checkpoint engine and stream fan-out
// ABOUTME: Registered on the default registry and served by Handler when metrics are enabled

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Event log
var (
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coven_context_events_emitted_total",
		Help: "Events appended to the event log by topic and outcome",
	}, []string{"topic", "status"})

	EventsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coven_context_events_pruned_total",
		Help: "Event log rows removed by retention sweeps",
	})
)

// Checkpoint engine
var (
	CheckpointCaptures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coven_context_checkpoint_captures_total",
		Help: "Checkpoint capture attempts by status",
	}, []string{"status"})

	CheckpointRestores = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coven_context_checkpoint_restores_total",
		Help: "Checkpoint restore attempts by status",
	}, []string{"status"})

	CheckpointRestoreDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coven_context_checkpoint_restore_duration_seconds",
		Help:    "Checkpoint restore duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	CheckpointItems = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coven_context_checkpoint_items",
		Help:    "Number of items frozen per captured checkpoint",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
	})
)

// Stream fan-out
var (
	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coven_context_stream_subscribers",
		Help: "Currently connected event stream subscribers",
	})

	StreamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coven_context_stream_frames_total",
		Help: "Frames written to stream subscribers by kind",
	}, []string{"kind"})
)

// Handler serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}
