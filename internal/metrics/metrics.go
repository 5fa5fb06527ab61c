package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refery_http_requests_total",
			Help: "Total number of HTTP requests handled by the API.",
		},
		[]string{"route", "method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refery_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// ReferralsTotal counts referrals entering each status, including creation.
	ReferralsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refery_referrals_total",
			Help: "Referrals entering each status.",
		},
		[]string{"status"},
	)

	PayoutsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refery_payouts_processed_total",
			Help: "Payouts processed by the scheduler, by result.",
		},
		[]string{"result"},
	)
)
