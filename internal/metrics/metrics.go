package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DueDatesCalculatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circulation_due_dates_calculated_total",
		Help: "Total number of due dates calculated, by due date strategy.",
	},
		[]string{"strategy"},
	)

	DueDateAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circulation_due_date_adjustments_total",
		Help: "Total number of due dates moved because the service point was closed.",
	},
		[]string{"closed_library_strategy"},
	)

	LoansCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circulation_loans_created_total",
		Help: "Total number of loans successfully created.",
	})

	LoansClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circulation_loans_closed_total",
		Help: "Total number of loans closed by check-in.",
	})

	RequestsPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circulation_instance_requests_placed_total",
		Help: "Total number of instance-level requests placed, by request type.",
	},
		[]string{"request_type"},
	)

	PlacementAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "circulation_request_placement_attempts",
		Help:    "Number of candidate items tried per instance-level request.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	})

	RankingFetchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circulation_ranking_queue_fetch_failures_total",
		Help: "Total number of unavailable items dropped because their request queue could not be fetched.",
	})

	ClientRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "circulation_client_request_duration_seconds",
		Help:    "Duration of calls to collaborating services.",
		Buckets: prometheus.DefBuckets,
	},
		[]string{"client", "method", "outcome"},
	)

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circulation_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)
)
