// Package aggregate combines several remote sources into one state machine.
//
// The aggregate advances only when every source agrees: all complete, or all serving a
// cached copy while they refresh. A single failing source fails the whole aggregate.
// When it advances it bakes each source's payload into a record map and an ordered
// list, skipping sources whose revision has not changed since the last bake.
package aggregate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/amp-labs/catalog-fsm/fsm"
	"github.com/amp-labs/catalog-fsm/logger"
	"github.com/amp-labs/catalog-fsm/remote"
)

// State of an aggregate.
type State string

const (
	StateInitial         State = "initial"
	StateLoading         State = "loading"
	StateLoadingFailed   State = "loadingFailed"
	StateReloading       State = "reloading"
	StateReloadingFailed State = "reloadingFailed"
	StateComplete        State = "complete"
)

// Event of an aggregate.
type Event string

const (
	EventRequest           Event = "request"
	EventOfflineCacheFound Event = "offlineCacheFound"
	EventComplete          Event = "complete"
	EventFailed            Event = "failed"
	// EventCategoryChanged is never fed to the table; a selection change only
	// re-notifies subscribers. It exists for logging and presentation code.
	EventCategoryChanged Event = "categoryChanged"
)

var (
	ErrNoSources       = errors.New("aggregate needs at least one source")
	ErrDuplicateSource = errors.New("duplicate source key")
	ErrUnknownSource   = errors.New("unknown source key")
)

//go:embed machine.yaml
var definitionFS embed.FS

// Definition returns the aggregate's transition table.
func Definition() *fsm.Definition {
	return fsm.MustLoadDefinitionFromFS(definitionFS, "machine.yaml")
}

// Named binds a source to its key.
type Named[K comparable, R any, V comparable] struct {
	Key    K
	Source remote.Source[R, V]
}

type entry[R any, V comparable] struct {
	baked    bool
	revision V
	records  map[string]R
	list     []R
}

// Option configures New.
type Option[K comparable] func(*settings[K])

type settings[K comparable] struct {
	selected    K
	hasSelected bool
	fsmLogger   fsm.Logger
}

// WithSelected sets the initially selected source. The first source is selected otherwise.
func WithSelected[K comparable](key K) Option[K] {
	return func(s *settings[K]) {
		s.selected = key
		s.hasSelected = true
	}
}

// WithLogger replaces the machine's transition logger.
func WithLogger[K comparable](l fsm.Logger) Option[K] {
	return func(s *settings[K]) {
		s.fsmLogger = l
	}
}

// Machine aggregates N named sources.
type Machine[K comparable, R any, V comparable] struct {
	name    string
	machine *fsm.Machine[State, Event]
	sources []Named[K, R, V]
	unsubs  []func()

	mu       sync.RWMutex
	base     context.Context //nolint:containedctx // context for source notifications, set by Start
	entries  map[K]*entry[R, V]
	selected K
}

// New builds the aggregate and subscribes to every source. Sources keep their order.
func New[K comparable, R any, V comparable](name string, sources []Named[K, R, V], opts ...Option[K]) (*Machine[K, R, V], error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	s := &settings[K]{}
	for _, opt := range opts {
		opt(s)
	}

	m := &Machine[K, R, V]{
		name:    name,
		sources: append([]Named[K, R, V](nil), sources...),
		base:    context.Background(),
		entries: make(map[K]*entry[R, V], len(sources)),
	}

	for _, src := range sources {
		if _, dup := m.entries[src.Key]; dup {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateSource, src.Key)
		}

		m.entries[src.Key] = &entry[R, V]{records: map[string]R{}, list: []R{}}
	}

	m.selected = sources[0].Key

	if s.hasSelected {
		if _, ok := m.entries[s.selected]; !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnknownSource, s.selected)
		}

		m.selected = s.selected
	}

	fsmOpts := []fsm.Option[State, Event]{
		fsm.WithEnterAction[State, Event](StateLoading, m.requestSources),
		fsm.WithEnterAction[State, Event](StateReloading, m.refreshSources),
	}

	if s.fsmLogger != nil {
		fsmOpts = append(fsmOpts, fsm.WithLogger[State, Event](s.fsmLogger))
	}

	machine, err := fsm.New(name, StateInitial, fsm.TableFrom[State, Event](Definition()), fsmOpts...)
	if err != nil {
		return nil, err
	}

	m.machine = machine

	for _, src := range m.sources {
		key := src.Key
		m.unsubs = append(m.unsubs, src.Source.Subscribe(func(state remote.State) {
			m.machine.Do(m.context(), func(ctx context.Context) {
				m.join(ctx, key, state)
			})
		}))
	}

	return m, nil
}

// Start records ctx (without its cancellation) as the context source notifications are
// handled with, and enters the initial state.
func (m *Machine[K, R, V]) Start(ctx context.Context) {
	m.mu.Lock()
	m.base = logger.WithMachine(context.WithoutCancel(ctx), m.name)
	m.mu.Unlock()

	m.machine.Start(ctx)
}

// Close unsubscribes from every source. The aggregate stops following them.
func (m *Machine[K, R, V]) Close() {
	for _, unsub := range m.unsubs {
		unsub()
	}
}

func (m *Machine[K, R, V]) context() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.base
}

// Name returns the aggregate name.
func (m *Machine[K, R, V]) Name() string {
	return m.name
}

// Machine exposes the underlying state machine.
func (m *Machine[K, R, V]) Machine() *fsm.Machine[State, Event] {
	return m.machine
}

// Request starts or restarts loading. It is the only external trigger of the lifecycle.
func (m *Machine[K, R, V]) Request(ctx context.Context) {
	m.machine.Transition(ctx, EventRequest)
}

func (m *Machine[K, R, V]) State() State {
	return m.machine.State()
}

// Subscribe registers fn for every committed transition and every selection change.
func (m *Machine[K, R, V]) Subscribe(fn func(State)) func() {
	return m.machine.Subscribe(fn)
}

// Keys returns the source keys in construction order.
func (m *Machine[K, R, V]) Keys() []K {
	keys := make([]K, len(m.sources))
	for i, src := range m.sources {
		keys[i] = src.Key
	}

	return keys
}

// Get looks up one baked record. Unknown keys and ids report false.
func (m *Machine[K, R, V]) Get(key K, id string) (R, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		var zero R

		return zero, false
	}

	r, ok := e.records[id]

	return r, ok
}

// Records returns the baked record map of key, nil for unknown keys. The map is
// replaced, never mutated, by later bakes; callers must not modify it.
func (m *Machine[K, R, V]) Records(key K) map[string]R {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.entries[key]; ok {
		return e.records
	}

	return nil
}

// List returns the baked records of key in server order. Same sharing rules as Records.
func (m *Machine[K, R, V]) List(key K) []R {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.entries[key]; ok {
		return e.list
	}

	return nil
}

// Select changes which source is exposed for presentation and re-notifies subscribers
// with the current state. It does not fetch. Unknown keys are rejected.
func (m *Machine[K, R, V]) Select(ctx context.Context, key K) bool {
	m.mu.Lock()
	if _, ok := m.entries[key]; !ok {
		m.mu.Unlock()
		logger.Get(ctx).Debug("ignoring unknown selection", "machine", m.name, "key", fmt.Sprint(key))

		return false
	}

	m.selected = key
	m.mu.Unlock()

	logger.Get(ctx).Debug("selection changed",
		"machine", m.name, "event", string(EventCategoryChanged), "key", fmt.Sprint(key))
	m.machine.Notify(ctx)

	return true
}

// Selected returns the selected source key.
func (m *Machine[K, R, V]) Selected() K {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.selected
}

// Snapshot is a read-only view of the aggregate.
type Snapshot[K comparable, R any, V comparable] struct {
	State     State
	Selected  K
	Records   map[K]map[string]R
	Lists     map[K][]R
	Revisions map[K]V
}

// Snapshot returns the current state, selection and baked data. Only sources baked
// at least once appear in Revisions.
func (m *Machine[K, R, V]) Snapshot() Snapshot[K, R, V] {
	state := m.machine.State()

	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot[K, R, V]{
		State:     state,
		Selected:  m.selected,
		Records:   make(map[K]map[string]R, len(m.entries)),
		Lists:     make(map[K][]R, len(m.entries)),
		Revisions: make(map[K]V, len(m.entries)),
	}

	for key, e := range m.entries {
		snap.Records[key] = e.records
		snap.Lists[key] = e.list

		if e.baked {
			snap.Revisions[key] = e.revision
		}
	}

	return snap
}

// Mermaid renders the aggregate's transition diagram.
func (m *Machine[K, R, V]) Mermaid() string {
	return m.machine.Mermaid()
}

func (m *Machine[K, R, V]) requestSources(ctx context.Context, _ fsm.Transition[State, Event]) {
	for _, src := range m.sources {
		src.Source.Request(ctx)
	}
}

// refreshSources re-requests on an explicit request. Reaching reloading through
// offlineCacheFound means the sources are already fetching.
func (m *Machine[K, R, V]) refreshSources(ctx context.Context, t fsm.Transition[State, Event]) {
	if t.Event == EventRequest {
		m.requestSources(ctx, t)
	}
}

// join runs serialized with the aggregate's transitions on every source notification.
func (m *Machine[K, R, V]) join(ctx context.Context, key K, reported remote.State) {
	switch {
	case reported.Failed():
		logger.Get(ctx).Debug("source failed", "machine", m.name, "source", fmt.Sprint(key), "state", string(reported))
		m.machine.Transition(ctx, EventFailed)
	case reported == remote.StateComplete && m.all(remote.StateComplete):
		m.bake(ctx)
		m.machine.Transition(ctx, EventComplete)
	case reported == remote.StateReloading && m.all(remote.StateReloading):
		m.bake(ctx)
		m.machine.Transition(ctx, EventOfflineCacheFound)
	}
}

func (m *Machine[K, R, V]) all(state remote.State) bool {
	for _, src := range m.sources {
		if src.Source.State() != state {
			return false
		}
	}

	return true
}

// bake rebuilds the record map and list of every source whose revision changed.
// Unchanged sources keep their existing map and list.
func (m *Machine[K, R, V]) bake(ctx context.Context) {
	for _, src := range m.sources {
		payload, ok := src.Source.Payload()
		if !ok {
			continue
		}

		label := fmt.Sprint(src.Key)

		m.mu.RLock()
		e := m.entries[src.Key]
		unchanged := e.baked && e.revision == payload.Revision
		m.mu.RUnlock()

		if unchanged {
			bakesTotal.WithLabelValues(m.name, label, "skipped").Inc()

			continue
		}

		records, list := index(payload.Records)

		m.mu.Lock()
		m.entries[src.Key] = &entry[R, V]{
			baked:    true,
			revision: payload.Revision,
			records:  records,
			list:     list,
		}
		m.mu.Unlock()

		bakesTotal.WithLabelValues(m.name, label, "rebuilt").Inc()
		logger.Get(ctx).Debug("baked source", "machine", m.name, "source", label, "records", len(list))
	}
}

// index keys records by id. A repeated id keeps its first position and its last value.
func index[R any](in []remote.Record[R]) (map[string]R, []R) {
	records := make(map[string]R, len(in))
	list := make([]R, 0, len(in))
	pos := make(map[string]int, len(in))

	for _, rec := range in {
		records[rec.ID] = rec.Value

		if i, seen := pos[rec.ID]; seen {
			list[i] = rec.Value

			continue
		}

		pos[rec.ID] = len(list)
		list = append(list, rec.Value)
	}

	return records, list
}
