package fsm

import (
	"errors"
	"fmt"
)

// Predefined error types.
var (
	// ErrNameRequired indicates that a machine was built without a name.
	ErrNameRequired = errors.New("machine name is required")
	// ErrInitialStateNotFound indicates that the initial state has no row in the table.
	ErrInitialStateNotFound = errors.New("initial state does not exist")
	// ErrUndeclaredState indicates a reachable state that is neither a table key nor a declared terminal.
	ErrUndeclaredState = errors.New("reachable state is not declared")
	// ErrUnknownActionState indicates an action bound to a state the table never mentions.
	ErrUnknownActionState = errors.New("action bound to unknown state")
	// ErrUnknownActionEvent indicates an exit action bound to an event the state does not accept.
	ErrUnknownActionEvent = errors.New("exit action bound to unknown event")
	// ErrRunawayChain indicates an unbounded synchronous transition cycle.
	ErrRunawayChain = errors.New("runaway transition chain")
	// ErrInvalidDefinition indicates a malformed YAML machine definition.
	ErrInvalidDefinition = errors.New("invalid machine definition")
)

// StateError wraps an error with state context.
type StateError struct {
	State string
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: %v", e.State, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// WrapStateError wraps an error with state context.
func WrapStateError[S comparable](state S, err error) error {
	if err == nil {
		return nil
	}

	return &StateError{
		State: label(state),
		Err:   err,
	}
}
