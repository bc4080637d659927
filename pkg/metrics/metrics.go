package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admissions records invite admission attempts by channel (link|email) and
	// outcome (success|full|duplicate|error).
	Admissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatsmith_admissions_total",
			Help: "Total number of invite admission attempts",
		},
		[]string{"channel", "outcome"},
	)

	// SeatAdjustments counts seat-quantity updates requested from the billing provider.
	SeatAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatsmith_seat_adjustments_total",
			Help: "Total number of billing seat adjustments requested",
		},
		[]string{"result"},
	)

	// RoleTransitions counts membership role/status transitions by outcome.
	RoleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatsmith_role_transitions_total",
			Help: "Total number of membership role transitions",
		},
		[]string{"outcome"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seatsmith_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
