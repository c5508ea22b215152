// Package metrics defines the Prometheus instrumentation surface.
//
// All collectors are registered via promauto at package init and exposed on
// the /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection lifecycle metrics
var (
	// ConnectionsCurrent tracks currently open WebSocket connections
	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_current",
			Help: "Currently open WebSocket connections",
		},
	)

	// ConnectionsTotal tracks accepted WebSocket connections
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_connections_total",
			Help: "Total accepted WebSocket connections",
		},
	)

	// ConnectionsRejectedTotal tracks connections rejected by limits
	ConnectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_connections_rejected_total",
			Help: "Connections rejected before upgrade, by reason",
		},
		[]string{"reason"},
	)

	// AuthenticatedUsersCurrent tracks users with at least one live connection
	AuthenticatedUsersCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_authenticated_users_current",
			Help: "Users with at least one authenticated connection",
		},
	)

	// HeartbeatTerminationsTotal tracks connections reaped by the liveness sweep
	HeartbeatTerminationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_heartbeat_terminations_total",
			Help: "Connections forcibly closed after missing the liveness window",
		},
	)
)

// Auth metrics
var (
	// AuthAttemptsTotal tracks auth frames by outcome
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Socket authentication attempts by status (success/failure)",
		},
		[]string{"status"},
	)

	// LoginAttemptsTotal tracks HTTP login attempts by outcome
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "HTTP login attempts by status (success/failure)",
		},
		[]string{"status"},
	)
)

// Fan-out metrics
var (
	// FanoutDeliveredTotal tracks per-connection deliveries that succeeded
	FanoutDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_delivered_total",
			Help: "Per-connection frame deliveries accepted by a writer",
		},
	)

	// FanoutFailedTotal tracks per-connection deliveries that failed
	FanoutFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_failed_total",
			Help: "Per-connection frame deliveries that failed (dead or slow writer)",
		},
	)

	// FanoutNoConnectionTotal tracks results addressed to users with zero connections
	FanoutNoConnectionTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_no_connection_total",
			Help: "Messages dropped because the user had no live connection",
		},
	)

	// SlowClientsEvictedTotal tracks writers evicted for full send buffers
	SlowClientsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_slow_clients_evicted_total",
			Help: "Connections evicted because their send buffer stayed full",
		},
	)

	// HubCommandChannelDepth tracks the hub actor's command backlog
	HubCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_command_channel_depth",
			Help: "Current depth of the hub actor command channel",
		},
	)

	// HubPanicsTotal tracks recovered panics in the hub actor loop
	HubPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_panics_total",
			Help: "Panics recovered in the hub actor loop",
		},
	)
)

// Correlation metrics
var (
	// PendingRequestsCurrent tracks outstanding request correlations
	PendingRequestsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_requests_current",
			Help: "Outstanding request correlations awaiting results",
		},
	)

	// DroppedResultsTotal tracks results with no matching correlation
	DroppedResultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropped_results_total",
			Help: "Results dropped because no pending request matched their id",
		},
	)
)

// Task metrics
var (
	// TasksSubmittedTotal tracks task submissions by bridge variant
	TasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_submitted_total",
			Help: "Tasks handed to the submission bridge, by variant (direct/queue)",
		},
		[]string{"variant"},
	)

	// TaskBatchesTotal tracks emitted result batches
	TaskBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "task_batches_total",
			Help: "Result batches produced by task execution",
		},
	)

	// TaskErrorsTotal tracks failed task executions
	TaskErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "task_errors_total",
			Help: "Task executions that ended in an error result",
		},
	)

	// TaskDuration tracks task execution time in seconds
	TaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
)

// Broker metrics, used by the queued bridge only
var (
	// QueuePublishErrorsTotal tracks failed publishes to the broker
	QueuePublishErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_publish_errors_total",
			Help: "Failed publishes to the work or result stream",
		},
	)

	// QueueRedeliveriesTotal tracks negatively acknowledged messages
	QueueRedeliveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_redeliveries_total",
			Help: "Messages negatively acknowledged and requeued",
		},
	)
)
