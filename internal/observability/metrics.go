package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mbk_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	SeatConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mbk_seat_conflicts_total",
			Help: "Lock acquisitions rejected because a seat was taken",
		},
	)

	CommitRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mbk_booking_commit_retries_total",
			Help: "Booking commits retried after serialization failures",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mbk_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	LocksReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mbk_locks_reaped_total",
			Help: "Expired seat locks flipped by the reaper",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mbk_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mbk_rate_limit_exceeded_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
