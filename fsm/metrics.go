package fsm

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric definitions with appropriate labels.
var (
	// transitionsTotal tracks committed transitions.
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_transitions_total",
		Help: "Total number of committed transitions by machine, from state, event and to state",
	}, []string{"machine", "from", "event", "to"})

	// ignoredTotal tracks events that had no entry for the current state.
	ignoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_ignored_events_total",
		Help: "Total number of events ignored because the current state does not accept them",
	}, []string{"machine", "state", "event"})

	// actionDuration tracks enter/exit action execution time.
	actionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fsm_action_duration_seconds",
		Help:    "Duration of enter and exit actions by machine, state and kind",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"machine", "state", "kind"})

	// subscribersGauge tracks the number of live subscriptions per machine.
	subscribersGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fsm_subscribers",
		Help: "Number of live subscribers by machine",
	}, []string{"machine"})
)

// label renders a state or event for metrics, logs and diagrams.
func label(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// sortedEvents returns the keys of a table row ordered by their label.
func sortedEvents[S, E comparable](row map[E]S) []E {
	events := make([]E, 0, len(row))
	for event := range row {
		events = append(events, event)
	}

	slices.SortFunc(events, func(a, b E) int {
		return cmp.Compare(label(a), label(b))
	})

	return events
}
