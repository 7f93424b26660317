package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	DealsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deals_completed_total",
			Help: "Total number of deals that reached the completed status",
		},
	)

	DisputesResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disputes_resolved_total",
			Help: "Total number of disputes resolved, by outcome",
		},
		[]string{"outcome"},
	)

	WithdrawalsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "withdrawals_processed_total",
			Help: "Total number of withdrawal requests paid out",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(
		RepositoryCalls,
		RepositoryDuration,
		DealsCompleted,
		DisputesResolved,
		WithdrawalsProcessed,
	)
}
