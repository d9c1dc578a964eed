package fsm

import (
	"fmt"
	"slices"
)

// Validate checks a transition table for structural errors.
//
// Every state reachable from initial by any event sequence must either have a row in the
// table (possibly empty) or be listed in terminal. The initial state itself must have a row.
func Validate[S, E comparable](initial S, table Table[S, E], terminal ...S) error {
	if _, ok := table[initial]; !ok && !slices.Contains(terminal, initial) {
		return WrapStateError(initial, ErrInitialStateNotFound)
	}

	for _, state := range Reachable(initial, table) {
		if _, ok := table[state]; ok {
			continue
		}

		if !slices.Contains(terminal, state) {
			return WrapStateError(state, ErrUndeclaredState)
		}
	}

	return nil
}

// Reachable returns every state reachable from initial, initial first, in breadth-first order.
func Reachable[S, E comparable](initial S, table Table[S, E]) []S {
	seen := map[S]bool{initial: true}
	order := []S{initial}

	// Simple BFS
	for i := 0; i < len(order); i++ {
		for _, event := range sortedEvents(table[order[i]]) {
			next := table[order[i]][event]
			if !seen[next] {
				seen[next] = true
				order = append(order, next)
			}
		}
	}

	return order
}

// knownStates collects every state the table mentions, as a key or as a target.
func knownStates[S, E comparable](initial S, table Table[S, E], terminal []S) map[S]bool {
	known := map[S]bool{initial: true}

	for from, row := range table {
		known[from] = true

		for _, to := range row {
			known[to] = true
		}
	}

	for _, state := range terminal {
		known[state] = true
	}

	return known
}

func validateActions[S, E comparable](m *Machine[S, E]) error {
	known := knownStates(m.initial, m.table, m.terminal)

	for state := range m.enter {
		if !known[state] {
			return WrapStateError(state, ErrUnknownActionState)
		}
	}

	for key := range m.exit {
		if !known[key.state] {
			return WrapStateError(key.state, ErrUnknownActionState)
		}

		if _, ok := m.table[key.state][key.event]; !ok {
			return WrapStateError(key.state, fmt.Errorf("%w: %s", ErrUnknownActionEvent, label(key.event)))
		}
	}

	return nil
}
