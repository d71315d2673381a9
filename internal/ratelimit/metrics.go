package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the rate limiter.
type Metrics struct {
	Checks        *prometheus.CounterVec
	FailOpen      prometheus.Counter
	CircuitOpened prometheus.Counter
}

// NewMetrics creates and registers the rate limiter metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Checks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_ratelimit_checks_total",
			Help: "Rate limit checks by outcome",
		}, []string{"outcome"}),
		FailOpen: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdict_ratelimit_fail_open_total",
			Help: "Checks allowed without counting because the store was unreachable",
		}),
		CircuitOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdict_ratelimit_circuit_opened_total",
			Help: "Transitions of the store circuit breaker to open",
		}),
	}
}
