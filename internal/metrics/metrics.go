package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recalculation outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

var (
	RecalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "networth_recalculations_total",
		Help: "Running balance passes, labeled by outcome",
	}, []string{"outcome"})

	RecalculationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "networth_recalculation_duration_seconds",
		Help:    "Latency distribution of running balance passes",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	TransactionsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "networth_transactions_processed_total",
		Help: "Transactions whose running balance was written",
	})

	HistoryQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "networth_history_queries_total",
		Help: "Net worth history reads, labeled by calculation status",
	}, []string{"status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "networth_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "networth_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})
)
