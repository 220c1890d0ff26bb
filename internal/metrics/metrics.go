package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Service-level counters, exposed on /metrics.
var (
	ActionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mkt_approvals",
		Name:      "actions_processed_total",
		Help:      "Approval actions processed, by action type.",
	}, []string{"action"})

	RequestsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mkt_approvals",
		Name:      "requests_completed_total",
		Help:      "Approval requests reaching a terminal status, by status.",
	}, []string{"status"})

	SweepEscalations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mkt_approvals",
		Name:      "sweep_escalations_total",
		Help:      "Requests auto-escalated by the timeout sweep.",
	})

	SweepExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mkt_approvals",
		Name:      "sweep_expirations_total",
		Help:      "Requests expired by the timeout sweep.",
	})

	SweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mkt_approvals",
		Name:      "sweep_failures_total",
		Help:      "Requests the timeout sweep failed to evaluate or persist.",
	})

	NotificationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mkt_approvals",
		Name:      "notifications_created_total",
		Help:      "Notifications appended to user inboxes.",
	})
)
