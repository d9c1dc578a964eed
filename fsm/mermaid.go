package fsm

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Mermaid renders the machine's transition table as a Mermaid state diagram.
// States are emitted in breadth-first order from the initial state; unreachable rows
// follow in label order.
func (m *Machine[S, E]) Mermaid() string {
	return Mermaid(m.initial, m.table, m.terminal...)
}

// Mermaid renders a transition table as a Mermaid state diagram.
func Mermaid[S, E comparable](initial S, table Table[S, E], terminal ...S) string {
	var sb strings.Builder

	sb.WriteString("stateDiagram-v2\n")
	sb.WriteString(fmt.Sprintf("    [*] --> %s\n", label(initial)))

	order := Reachable(initial, table)
	seen := make(map[S]bool, len(order))

	for _, s := range order {
		seen[s] = true
	}

	var rest []S

	for s := range table {
		if !seen[s] {
			rest = append(rest, s)
		}
	}

	slices.SortFunc(rest, func(a, b S) int { return cmp.Compare(label(a), label(b)) })
	order = append(order, rest...)

	for _, from := range order {
		row := table[from]
		for _, event := range sortedEvents(row) {
			sb.WriteString(fmt.Sprintf("    %s --> %s: %s\n", label(from), label(row[event]), label(event)))
		}

		if slices.Contains(terminal, from) {
			sb.WriteString(fmt.Sprintf("    %s --> [*]\n", label(from)))
		}
	}

	return sb.String()
}
