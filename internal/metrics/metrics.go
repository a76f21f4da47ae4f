package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BalanceRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nerbalancer_balance_runs_total",
			Help: "Count of balancing runs by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	BalanceIterations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nerbalancer_balance_iterations",
			Help:    "Refinement iterations per balancing run",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"source"},
	)

	BalanceBadness = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nerbalancer_balance_badness",
			Help:    "Final badness of balancing runs",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"source"},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nerbalancer_jobs_total",
			Help: "Count of balance job status transitions",
		},
		[]string{"status"},
	)

	registerOnce sync.Once
)

const (
	SourceAPI    = "api"
	SourceWorker = "worker"

	OutcomeConverged = "converged"
	OutcomeCapped    = "capped"
	OutcomeFailed    = "failed"
)

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(BalanceRunsTotal)
		prometheus.MustRegister(BalanceIterations)
		prometheus.MustRegister(BalanceBadness)
		prometheus.MustRegister(JobsTotal)
	})
}

func ObserveRun(source string, iterations, badness int, converged bool) {
	outcome := OutcomeConverged
	if !converged {
		outcome = OutcomeCapped
	}
	BalanceRunsTotal.WithLabelValues(source, outcome).Inc()
	BalanceIterations.WithLabelValues(source).Observe(float64(iterations))
	BalanceBadness.WithLabelValues(source).Observe(float64(badness))
}

func ObserveFailure(source string) {
	BalanceRunsTotal.WithLabelValues(source, OutcomeFailed).Inc()
}
