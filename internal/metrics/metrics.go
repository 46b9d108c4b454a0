package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_cycles_total",
			Help: "Total number of scheduler ticks by outcome",
		},
		[]string{"outcome"}, // outcome: completed, empty, skipped, failed
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skywatch_cycle_duration_seconds",
			Help:    "Wall time of one evaluation cycle",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	CyclesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skywatch_cycles_in_flight",
			Help: "Number of cycles currently running",
		},
	)

	LocationGroups = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skywatch_location_groups",
			Help: "Number of location groups in the most recent cycle",
		},
	)

	// Provider metrics
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_weather_fetch_total",
			Help: "Weather snapshot fetches by result",
		},
		[]string{"result"}, // result: ok, invalid_location, rate_limited, upstream, network
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skywatch_weather_fetch_duration_seconds",
			Help:    "Latency of weather provider calls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// Evaluation metrics
	AlertsEvaluatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_alerts_evaluated_total",
			Help: "Alerts evaluated by resulting status",
		},
		[]string{"status"},
	)

	MissingParameterTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_missing_parameter_total",
			Help: "Evaluations where the snapshot lacked the alert parameter",
		},
		[]string{"parameter"},
	)

	// Persistence metrics
	TriggeredEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skywatch_triggered_events_total",
			Help: "Triggered events appended to the event store",
		},
	)

	PersistFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_persist_failures_total",
			Help: "Store writes that failed",
		},
		[]string{"operation"}, // operation: append_event, update_status, mark_sent
	)

	StatusRowsUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skywatch_status_rows_updated_total",
			Help: "Alert rows touched by trigger status updates",
		},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_notifications_total",
			Help: "Notification attempts by channel and status",
		},
		[]string{"channel", "status"}, // status: sent, failed, dropped
	)

	NotificationQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skywatch_notification_queue_size",
			Help: "Notifications waiting to be dispatched",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)

// RecordFetch records one provider call
func RecordFetch(result string, seconds float64) {
	FetchTotal.WithLabelValues(result).Inc()
	FetchDuration.Observe(seconds)
}

// RecordCycle records a finished cycle and its group count
func RecordCycle(outcome string, seconds float64, groups int) {
	CyclesTotal.WithLabelValues(outcome).Inc()
	if outcome == "completed" || outcome == "empty" {
		CycleDuration.Observe(seconds)
		LocationGroups.Set(float64(groups))
	}
}

// RecordNotification records one channel delivery attempt
func RecordNotification(channel string, sent bool) {
	status := "failed"
	if sent {
		status = "sent"
	}
	NotificationsTotal.WithLabelValues(channel, status).Inc()
}
