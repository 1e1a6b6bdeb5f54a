package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	ProposalDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proposal_decisions_total",
			Help: "Proposals submitted, accepted or rejected",
		},
		[]string{"outcome"}, // submitted, accepted, rejected
	)

	MilestoneLocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "milestone_locks_total",
			Help: "Projects whose milestone set was locked by dual approval",
		},
	)

	PaymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Escrow payment state transitions",
		},
		[]string{"to"},
	)

	RejectedOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rejected_operations_total",
			Help: "Operations refused by validation, state or precondition checks",
		},
		[]string{"operation", "kind"},
	)
)

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncProposal(outcome string) {
	ProposalDecisions.WithLabelValues(outcome).Inc()
}

func IncMilestoneLock() {
	MilestoneLocks.Inc()
}

func IncPaymentTransition(to string) {
	PaymentTransitions.WithLabelValues(to).Inc()
}

func IncRejected(operation, kind string) {
	RejectedOperations.WithLabelValues(operation, kind).Inc()
}
