// Package store holds the derived, presentation-facing state that mirrors the
// machines: named, versioned containers persisted in a storage.Store.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/amp-labs/catalog-fsm/fsm"
	"github.com/amp-labs/catalog-fsm/logger"
	"github.com/amp-labs/catalog-fsm/storage"
	"github.com/google/uuid"
)

// ErrNameRequired is returned by New for a blank store name.
var ErrNameRequired = errors.New("store name is required")

type persisted[T any] struct {
	Version int    `json:"version"`
	Rev     string `json:"_rev"`
	Data    *T     `json:"data"`
}

// Store is a named container for one value of T. Persisted copies carry a revision;
// Load only adopts a persisted copy whose revision differs from the one in memory.
type Store[T any] struct {
	name    string
	version int
	key     string
	backend storage.Store

	mu   sync.RWMutex
	data *T
	rev  string
	subs []*func()
}

// New creates an empty store persisted under "store.<name>". Persisted copies written
// with another version are ignored.
func New[T any](name string, version int, backend storage.Store) (*Store[T], error) {
	if name == "" {
		return nil, ErrNameRequired
	}

	return &Store[T]{
		name:    name,
		version: version,
		key:     "store." + name,
		backend: backend,
	}, nil
}

// Name returns the store name.
func (s *Store[T]) Name() string {
	return s.name
}

// Key returns the storage key of the persisted copy.
func (s *Store[T]) Key() string {
	return s.key
}

// Data returns a copy of the current value and whether there is one.
func (s *Store[T]) Data() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data == nil {
		var zero T

		return zero, false
	}

	return *s.data, true
}

// Rev returns the revision of the value last loaded or saved.
func (s *Store[T]) Rev() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rev
}

// Set replaces the value in memory and notifies subscribers. It does not persist.
func (s *Store[T]) Set(value T) {
	s.mu.Lock()
	s.data = &value
	s.mu.Unlock()

	s.notify()
}

// Update applies fn to a copy of the current value (the zero value if empty), stores
// the result and notifies subscribers.
func (s *Store[T]) Update(fn func(*T)) {
	s.mu.Lock()

	var value T
	if s.data != nil {
		value = *s.data
	}

	fn(&value)
	s.data = &value
	s.mu.Unlock()

	s.notify()
}

// Reset drops the value in memory and notifies subscribers.
func (s *Store[T]) Reset() {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()

	s.notify()
}

// Load adopts the persisted copy when its revision differs from the current one, or
// unconditionally with force. It reports whether the value changed.
func (s *Store[T]) Load(ctx context.Context, force bool) (bool, error) {
	p, ok, err := storage.GetJSON[persisted[T]](ctx, s.backend, s.key)
	if err != nil {
		return false, fmt.Errorf("store %s: %w", s.name, err)
	}

	if !ok || p.Data == nil || p.Version != s.version {
		return false, nil
	}

	s.mu.Lock()
	if !force && p.Rev == s.rev {
		s.mu.Unlock()

		return false, nil
	}

	s.data = p.Data
	s.rev = p.Rev
	s.mu.Unlock()

	logger.Get(ctx).Debug("loaded modified data", "store", s.name, "rev", p.Rev)
	s.notify()

	return true, nil
}

// Save persists the current value under a fresh revision. An empty store removes
// the persisted copy instead.
func (s *Store[T]) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		s.rev = ""

		if err := s.backend.Delete(ctx, s.key); err != nil {
			return fmt.Errorf("store %s: %w", s.name, err)
		}

		return nil
	}

	rev := uuid.NewString()

	if err := storage.SetJSON(ctx, s.backend, s.key, persisted[T]{Version: s.version, Rev: rev, Data: s.data}); err != nil {
		return fmt.Errorf("store %s: %w", s.name, err)
	}

	s.rev = rev

	return nil
}

// Subscribe registers fn to run after every change of the value. The returned
// function unsubscribes and is idempotent.
func (s *Store[T]) Subscribe(fn func()) (unsubscribe func()) {
	sub := &fn

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.subs = slices.DeleteFunc(s.subs, func(f *func()) bool { return f == sub })
		s.mu.Unlock()
	}
}

func (s *Store[T]) notify() {
	s.mu.RLock()
	subs := slices.Clone(s.subs)
	s.mu.RUnlock()

	for _, sub := range subs {
		(*sub)()
	}
}

// Mirror calls fn with the source's current state and then on every change. It is how
// presentation code follows a machine without holding a reference to its write side.
func Mirror[S comparable](source fsm.Subscribable[S], fn func(S)) (unsubscribe func()) {
	unsubscribe = source.Subscribe(fn)
	fn(source.State())

	return unsubscribe
}
