// Package metrics provides Prometheus instrumentation for the console.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusDropped = "dropped"
)

// Fetch kinds.
const (
	KindOverview   = "overview"
	KindStage      = "stage"
	KindContribute = "contribute"
	KindUpdate     = "update"
)

// =============================================================================
// STAGE METRICS
// =============================================================================

var (
	stageFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zeus_stage_fetches_total",
			Help: "Total backend calls issued by the stage orchestrator",
		},
		[]string{"kind", "status"}, // status: success, error
	)

	fieldUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zeus_field_updates_total",
			Help: "Total single-field updates",
		},
		[]string{"status"},
	)
)

// =============================================================================
// REFRESH METRICS
// =============================================================================

var (
	refreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zeus_refresh_total",
			Help: "Total full-model refresh attempts",
		},
		[]string{"status"}, // status: success, error, dropped
	)

	refreshDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zeus_refresh_duration_seconds",
			Help:    "Full-model refresh duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// Status maps an error to a status label.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordFetch records one backend call of the given kind.
func RecordFetch(kind string, err error) {
	stageFetchesTotal.WithLabelValues(kind, Status(err)).Inc()
}

// RecordFieldUpdate records a field update outcome.
func RecordFieldUpdate(err error) {
	fieldUpdatesTotal.WithLabelValues(Status(err)).Inc()
}

// RecordRefresh records a refresh outcome. Dropped refreshes carry no
// duration.
func RecordRefresh(err error, dropped bool, seconds float64) {
	if dropped {
		refreshTotal.WithLabelValues(StatusDropped).Inc()
		return
	}
	refreshTotal.WithLabelValues(Status(err)).Inc()
	refreshDurationSeconds.Observe(seconds)
}

// Gatherer returns the registry the metrics are registered with.
func Gatherer() prometheus.Gatherer {
	return prometheus.DefaultGatherer
}

