// Package metrics defines the Prometheus instrumentation shared across the
// application.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokenRefreshes counts OAuth token refresh attempts by account and status.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_token_refreshes_total",
			Help: "OAuth token refresh attempts by account and status",
		},
		[]string{"account", "status"},
	)

	// Subscriptions counts EventSub subscription creation calls by type and status.
	Subscriptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_subscription_creations_total",
			Help: "EventSub subscription creation calls by type and status",
		},
		[]string{"type", "status"},
	)

	// Connections counts websocket connection attempts by kind (connect/reconnect) and status.
	Connections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_connection_attempts_total",
			Help: "EventSub websocket connection attempts by kind and status",
		},
		[]string{"kind", "status"},
	)

	// Disconnects counts observed websocket disconnects.
	Disconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventsub_disconnects_total",
			Help: "Observed EventSub websocket disconnects",
		},
	)

	// NotificationsReceived counts inbound protocol notifications by kind.
	NotificationsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_notifications_received_total",
			Help: "Inbound EventSub notifications by kind",
		},
		[]string{"kind"},
	)

	// CircuitBreakerStateChanges tracks breaker transitions by component and new state.
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)
)
