package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for rule evaluation and simulation.
type Metrics struct {
	EvaluationFailures prometheus.Counter
	SimulationsRun     prometheus.Counter
	RulesMatched       prometheus.Counter
}

// NewMetrics creates and registers the policy metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		EvaluationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdict_condition_evaluation_failures_total",
			Help: "Conditions that evaluated to false due to missing facts or malformed data",
		}),
		SimulationsRun: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdict_policy_simulations_total",
			Help: "Dry-run simulations executed",
		}),
		RulesMatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdict_policy_rules_matched_total",
			Help: "Live match() calls that selected a rule",
		}),
	}
}
