package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session Metrics
var (
	// SessionTransitionsTotal tracks session state transitions by target state
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_transitions_total",
			Help: "Session state transitions by target state",
		},
		[]string{"to"},
	)

	// ForcedLogoutsTotal tracks system-triggered logouts by reason
	ForcedLogoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forced_logouts_total",
			Help: "System-triggered logouts by reason (inactivity/unauthorized)",
		},
		[]string{"reason"},
	)

	// LoginsDiscardedTotal tracks in-flight logins discarded by a logout
	LoginsDiscardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logins_discarded_total",
			Help: "In-flight login results discarded because a logout won",
		},
	)
)

// Inactivity Watchdog Metrics
var (
	// WatchdogResetsTotal tracks deadline resets from activity signals
	WatchdogResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchdog_resets_total",
			Help: "Inactivity deadline resets triggered by activity signals",
		},
	)

	// WatchdogTimeoutsTotal tracks inactivity timeouts fired
	WatchdogTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchdog_timeouts_total",
			Help: "Inactivity timeouts that forced a logout",
		},
	)

	// WatchdogArmed tracks whether the inactivity timer is currently armed
	WatchdogArmed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchdog_armed",
			Help: "Whether the inactivity timer is currently armed (0/1)",
		},
	)
)

// Notification Sync Metrics
var (
	// PollTicksTotal tracks unread-count poll ticks by outcome
	PollTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_poll_ticks_total",
			Help: "Unread-count poll ticks by outcome (ok/error/skipped)",
		},
		[]string{"outcome"},
	)

	// FullSyncsTotal tracks full mirror refreshes by outcome
	FullSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_full_syncs_total",
			Help: "Full notification mirror refreshes by outcome",
		},
		[]string{"outcome"},
	)

	// OptimisticMutationsTotal tracks optimistic mirror mutations by kind
	OptimisticMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_optimistic_mutations_total",
			Help: "Optimistic mirror mutations by kind (mark_read/mark_all_read/delete/clear_all)",
		},
		[]string{"kind"},
	)

	// StaleResultsDiscardedTotal tracks in-flight responses dropped by generation checks
	StaleResultsDiscardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_stale_results_discarded_total",
			Help: "In-flight server responses discarded because the mirror generation moved on",
		},
	)

	// UnreadCount tracks the current local unread counter
	UnreadCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_unread_count",
			Help: "Current local unread notification count",
		},
	)
)

// API Client Metrics
var (
	// APIRequestsTotal tracks outgoing API requests by endpoint and status class
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Outgoing API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	// APIRequestDuration tracks outgoing API request latency in seconds
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Outgoing API request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"endpoint"},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)
