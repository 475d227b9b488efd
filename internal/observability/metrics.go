package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_outcomes_total", Help: "Dispatch requests by outcome"},
		[]string{"status"},
	)
	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_latency_seconds",
		Help:      "End-to-end dispatch latency",
		Buckets:   prometheus.DefBuckets,
	})
	ReservationConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_reservation_conflicts_total", Help: "Candidates lost to a concurrent reservation"})
	Compensations        = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_compensations_total", Help: "Reservation releases after a failed assignment"},
		[]string{"result"},
	)
	OrphanedReservationsReleased = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "orphaned_reservations_released_total", Help: "Stale reservations released by the sweeper"})
	NotificationFailures         = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notification_failures_total", Help: "Outcome notifications that could not be delivered"},
		[]string{"sink"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
