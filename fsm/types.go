// Package fsm provides a small, declarative finite-state-machine engine.
//
// A machine is described by a transition table (state × event → next state), optional
// enter/exit actions and an ordered list of subscribers. All work for a single machine
// (transitions, actions, notifications and arbitrary jobs submitted with Do) runs
// through a serial dispatcher, so a machine never executes two transitions at once even
// when events arrive from several goroutines.
package fsm

import "context"

// Table maps a state to the events it accepts and the state each event leads to.
// A missing (state, event) pair means the event is ignored in that state.
type Table[S, E comparable] map[S]map[E]S

// Transition describes a committed (or in-progress) state change.
type Transition[S, E comparable] struct {
	From  S
	Event E
	To    S
}

// Action is a side effect bound to entering or leaving a state.
// The context is the one handed to Transition (or Start) and carries the
// dispatch chain depth, so actions that re-enter the machine should pass it on.
type Action[S, E comparable] func(ctx context.Context, t Transition[S, E])

// Subscribable is the read side of a machine handed to presentation code.
type Subscribable[S comparable] interface {
	State() S
	Subscribe(fn func(state S)) (unsubscribe func())
}

type exitKey[S, E comparable] struct {
	state S
	event E
}
