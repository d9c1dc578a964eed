// Package remotetest provides a hand-driven remote.Source for tests.
package remotetest

import (
	"context"
	"slices"
	"sync"

	"github.com/amp-labs/catalog-fsm/remote"
)

// Source is a remote.Source whose state and payload are set by the test.
// Request only counts calls (and runs the OnRequest hook, if set); RequestWith also
// records its parameters.
type Source[R any, V comparable] struct {
	mu        sync.Mutex
	state     remote.State
	payload   remote.Payload[R, V]
	loaded    bool
	requests  int
	params    []remote.Params
	subs      []*func(remote.State)
	onRequest func(ctx context.Context)
}

var _ remote.Source[struct{}, string] = (*Source[struct{}, string])(nil)

// NewSource returns a source in the initial state.
func NewSource[R any, V comparable]() *Source[R, V] {
	return &Source[R, V]{state: remote.StateInitial}
}

// OnRequest sets a hook run synchronously by Request.
func (s *Source[R, V]) OnRequest(fn func(ctx context.Context)) {
	s.mu.Lock()
	s.onRequest = fn
	s.mu.Unlock()
}

func (s *Source[R, V]) Request(ctx context.Context) {
	s.mu.Lock()
	s.requests++
	hook := s.onRequest
	s.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
}

// RequestWith records p and then behaves like Request.
func (s *Source[R, V]) RequestWith(ctx context.Context, p remote.Params) {
	s.mu.Lock()
	s.params = append(s.params, p)
	s.mu.Unlock()

	s.Request(ctx)
}

// Params returns the parameters passed to RequestWith, oldest first.
func (s *Source[R, V]) Params() []remote.Params {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.params)
}

// Requests returns how many times Request was called.
func (s *Source[R, V]) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.requests
}

func (s *Source[R, V]) State() remote.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Source[R, V]) Subscribe(fn func(remote.State)) func() {
	sub := &fn

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.subs = slices.DeleteFunc(s.subs, func(f *func(remote.State)) bool { return f == sub })
		s.mu.Unlock()
	}
}

func (s *Source[R, V]) Payload() (remote.Payload[R, V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.payload, s.loaded
}

// Set moves the source to state and notifies subscribers.
func (s *Source[R, V]) Set(state remote.State) {
	s.mu.Lock()
	s.state = state
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		(*sub)(state)
	}
}

// Load replaces the payload without notifying.
func (s *Source[R, V]) Load(revision V, records ...remote.Record[R]) {
	s.mu.Lock()
	s.payload = remote.Payload[R, V]{Revision: revision, Records: records}
	s.loaded = true
	s.mu.Unlock()
}

// Complete loads the payload and then moves the source to complete.
func (s *Source[R, V]) Complete(revision V, records ...remote.Record[R]) {
	s.Load(revision, records...)
	s.Set(remote.StateComplete)
}
