// Package metrics defines the workspace's Prometheus metrics. Metrics are
// registered with the default registry on import and served by the gateway
// at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "workspace"

// ── State store ───────────────────────────────────────────────────────────────

// StateActionsTotal counts state store actions.
// Labels:
//   - slice: "tasks", "notes", "pomodoroSessions", "chatMessages" or "stats"
//   - action: "load", "create", "update", "delete", "complete" or "clear"
//   - outcome: "ok", "error" or "stale" (finished after a reset)
var StateActionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_actions_total",
		Help:      "Total number of state store actions, by slice, action and outcome.",
	},
	[]string{"slice", "action", "outcome"},
)

// StateActionDuration measures how long an action waited on the backend.
var StateActionDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "state_action_duration_seconds",
		Help:      "Duration of state store actions including the backend round trip.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"slice", "action"},
)

// StateResetsTotal counts store resets on sign-out or tenant loss.
var StateResetsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_resets_total",
		Help:      "Total number of state store resets.",
	},
)

// ── Session ───────────────────────────────────────────────────────────────────

// AuthEventsTotal counts auth events received from the backend.
// Label:
//   - event: e.g. "SIGNED_IN", "TOKEN_REFRESHED", "SIGNED_OUT"
var AuthEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_events_total",
		Help:      "Total number of auth state events, by event.",
	},
	[]string{"event"},
)

// AdminDowngradesTotal counts admin profiles downgraded by the security sweep.
var AdminDowngradesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admin_downgrades_total",
		Help:      "Total number of unauthorized admin profiles downgraded.",
	},
)

// ── Gateway ───────────────────────────────────────────────────────────────────

// HTTPRequestsTotal counts gateway requests.
// Labels:
//   - method: HTTP method
//   - route: the matched route pattern, e.g. "GET /v1/tasks/{id}"
//   - status: response status code
var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of gateway HTTP requests.",
	},
	[]string{"method", "route", "status"},
)

// HTTPRequestDuration measures gateway request latency.
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of gateway HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route"},
)
