package remote

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec( //nolint:gochecknoglobals
		prometheus.CounterOpts{
			Name: "remote_requests_total",
			Help: "Requests made by remote contexts, by outcome.",
		},
		[]string{"context", "outcome"},
	)

	requestDuration = promauto.NewHistogramVec( //nolint:gochecknoglobals
		prometheus.HistogramOpts{
			Name:    "remote_request_duration_seconds",
			Help:    "Duration of remote fetches, retries included.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"context"},
	)
)
