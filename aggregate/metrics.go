package aggregate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var bakesTotal = promauto.NewCounterVec( //nolint:gochecknoglobals
	prometheus.CounterOpts{
		Name: "aggregate_bakes_total",
		Help: "Per-source bake decisions: rebuilt when the revision changed, skipped otherwise.",
	},
	[]string{"machine", "source", "outcome"},
)
