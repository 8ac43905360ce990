package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	PurchasesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchases_processed_total",
			Help: "Total number of processed purchases",
		},
		[]string{"eligible"},
	)

	CommissionsPaidTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commissions_paid_total",
			Help: "Total monetary amount of commissions credited",
		},
		[]string{"level"},
	)

	MembersRegisteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "members_registered_total",
			Help: "Total number of enrolled members",
		},
	)

	WriteConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "write_conflicts_total",
			Help: "Total number of conditional writes rejected by a concurrent mutation",
		},
	)
)
