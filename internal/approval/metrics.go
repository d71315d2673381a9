package approval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the approval state machine.
type Metrics struct {
	RequestsCreated      prometheus.Counter
	AutoDecisions        *prometheus.CounterVec
	DecisionsRecorded    *prometheus.CounterVec
	Escalations          prometheus.Counter
	ConflictRejections   prometheus.Counter
	PermissionRejections prometheus.Counter
}

// NewMetrics creates and registers the approval metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdict_requests_created_total",
			Help: "Approval requests created",
		}),
		AutoDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_auto_decisions_total",
			Help: "Requests resolved at creation without a human step",
		}, []string{"action"}),
		DecisionsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_decisions_recorded_total",
			Help: "Human decisions recorded",
		}, []string{"decision"}),
		Escalations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdict_escalations_total",
			Help: "Requests flagged as overdue",
		}),
		ConflictRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdict_conflict_rejections_total",
			Help: "Writes rejected by the optimistic-concurrency precondition",
		}),
		PermissionRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdict_permission_rejections_total",
			Help: "Decisions rejected for insufficient permissions",
		}),
	}
}
