package fsm

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
)

const defaultMaxChain = 64

// Option configures a Machine.
type Option[S, E comparable] func(m *Machine[S, E])

// WithEnterAction binds an action that runs every time the machine enters state.
func WithEnterAction[S, E comparable](state S, action Action[S, E]) Option[S, E] {
	return func(m *Machine[S, E]) {
		m.enter[state] = action
	}
}

// WithExitAction binds an action that runs when the machine leaves state because of event.
// It runs before the state field changes.
func WithExitAction[S, E comparable](state S, event E, action Action[S, E]) Option[S, E] {
	return func(m *Machine[S, E]) {
		m.exit[exitKey[S, E]{state: state, event: event}] = action
	}
}

// WithTerminal declares states that are intentional dead ends (no row in the table).
func WithTerminal[S, E comparable](states ...S) Option[S, E] {
	return func(m *Machine[S, E]) {
		m.terminal = append(m.terminal, states...)
	}
}

// WithLogger replaces the default slog-backed logger.
func WithLogger[S, E comparable](logger Logger) Option[S, E] {
	return func(m *Machine[S, E]) {
		m.logger = logger
	}
}

// WithMaxChain bounds how many transitions may be chained synchronously from
// actions and subscribers before the machine gives up with ErrRunawayChain.
func WithMaxChain[S, E comparable](n int) Option[S, E] {
	return func(m *Machine[S, E]) {
		if n > 0 {
			m.maxChain = n
		}
	}
}

type subscriber[S comparable] struct {
	fn func(state S)
}

type job struct {
	ctx context.Context //nolint:containedctx // jobs are queued with the caller's context
	run func(ctx context.Context)
}

// Machine is an event-driven finite state machine.
//
// The zero value is not usable; construct with New.
type Machine[S, E comparable] struct {
	name     string
	initial  S
	table    Table[S, E]
	enter    map[S]Action[S, E]
	exit     map[exitKey[S, E]]Action[S, E]
	terminal []S
	logger   Logger
	maxChain int

	mu      sync.RWMutex
	state   S
	subs    []*subscriber[S]
	started bool

	queueMu     sync.Mutex
	queue       []job
	dispatching bool
}

// New creates a machine in its initial state. The enter action of the initial
// state does not run until Start is called.
func New[S, E comparable](name string, initial S, table Table[S, E], opts ...Option[S, E]) (*Machine[S, E], error) {
	if name == "" {
		return nil, ErrNameRequired
	}

	m := &Machine[S, E]{
		name:     name,
		initial:  initial,
		table:    table,
		enter:    make(map[S]Action[S, E]),
		exit:     make(map[exitKey[S, E]]Action[S, E]),
		maxChain: defaultMaxChain,
		state:    initial,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = NewDefaultLogger(nil)
	}

	if err := Validate(initial, table, m.terminal...); err != nil {
		return nil, fmt.Errorf("machine %s: %w", name, err)
	}

	if err := validateActions(m); err != nil {
		return nil, fmt.Errorf("machine %s: %w", name, err)
	}

	return m, nil
}

// Name returns the diagnostic name of the machine.
func (m *Machine[S, E]) Name() string {
	return m.name
}

// State returns the last committed state. Safe to call from any goroutine,
// including from inside actions and subscribers.
func (m *Machine[S, E]) State() S {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state
}

// Can reports whether event is accepted in the current state.
func (m *Machine[S, E]) Can(event E) bool {
	_, ok := m.table[m.State()][event]

	return ok
}

// Events returns the events accepted in the current state, in a stable order.
func (m *Machine[S, E]) Events() []E {
	return sortedEvents(m.table[m.State()])
}

// Start runs the enter action of the initial state. Only the first call has an effect.
func (m *Machine[S, E]) Start(ctx context.Context) {
	m.enqueue(ctx, false, func(ctx context.Context) {
		m.mu.Lock()
		if m.started {
			m.mu.Unlock()

			return
		}

		m.started = true
		current := m.state
		m.mu.Unlock()

		if action, ok := m.enter[current]; ok {
			m.runAction(ctx, "enter", Transition[S, E]{From: current, To: current}, action)
		}
	})
}

// Transition feeds event to the machine.
//
// If the current state has no entry for event the call is a logged no-op. Otherwise the
// state is updated, the enter action of the new state (if any) runs, and every subscriber
// is notified in registration order. When the machine is idle all of this has happened by
// the time Transition returns; when it is already dispatching (a re-entrant call from an
// action or subscriber, or a concurrent caller) the event is queued behind the work in
// progress.
func (m *Machine[S, E]) Transition(ctx context.Context, event E) {
	m.enqueue(ctx, true, func(ctx context.Context) {
		m.step(ctx, event)
	})
}

// TransitionIf feeds event only if cond, evaluated in the same dispatcher step right
// before the transition, reports true. Nothing else runs between cond and the
// transition, so cond may stage data the entered state's action reads.
func (m *Machine[S, E]) TransitionIf(ctx context.Context, event E, cond func(ctx context.Context) bool) {
	m.enqueue(ctx, true, func(ctx context.Context) {
		if !cond(ctx) {
			return
		}

		m.step(ctx, event)
	})
}

// Notify re-delivers the current state to every subscriber without a transition.
func (m *Machine[S, E]) Notify(ctx context.Context) {
	m.enqueue(ctx, false, func(ctx context.Context) {
		m.notify(m.State())
	})
}

// Do runs fn serialized with the machine's transitions.
func (m *Machine[S, E]) Do(ctx context.Context, fn func(ctx context.Context)) {
	m.enqueue(ctx, false, fn)
}

// Subscribe registers fn to be called with the new state after every committed
// transition. The returned function removes the subscription; calling it more than
// once is a no-op.
func (m *Machine[S, E]) Subscribe(fn func(state S)) (unsubscribe func()) {
	sub := &subscriber[S]{fn: fn}

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	count := len(m.subs)
	m.mu.Unlock()

	subscribersGauge.WithLabelValues(m.name).Set(float64(count))

	return func() {
		m.mu.Lock()
		m.subs = slices.DeleteFunc(m.subs, func(s *subscriber[S]) bool { return s == sub })
		count := len(m.subs)
		m.mu.Unlock()

		subscribersGauge.WithLabelValues(m.name).Set(float64(count))
	}
}

func (m *Machine[S, E]) step(ctx context.Context, event E) {
	from := m.State()

	to, ok := m.table[from][event]
	if !ok {
		ignoredTotal.WithLabelValues(m.name, label(from), label(event)).Inc()
		m.logger.EventIgnored(ctx, m.name, label(from), label(event))

		return
	}

	ctx, span := startTransitionSpan(ctx, m.name, label(from), label(event), label(to))
	defer span.End()

	t := Transition[S, E]{From: from, Event: event, To: to}

	if action, ok := m.exit[exitKey[S, E]{state: from, event: event}]; ok {
		m.runAction(ctx, "exit", t, action)
	}

	m.mu.Lock()
	m.state = to
	m.mu.Unlock()

	transitionsTotal.WithLabelValues(m.name, label(from), label(event), label(to)).Inc()
	m.logger.TransitionExecuted(ctx, m.name, label(from), label(event), label(to))

	if action, ok := m.enter[to]; ok {
		m.runAction(ctx, "enter", t, action)
	}

	m.notify(to)

	span.SetStatus(codes.Ok, "committed")
}

func (m *Machine[S, E]) runAction(ctx context.Context, kind string, t Transition[S, E], action Action[S, E]) {
	state := t.To
	if kind == "exit" {
		state = t.From
	}

	start := time.Now()

	action(ctx, t)

	elapsed := time.Since(start)

	actionDuration.WithLabelValues(m.name, label(state), kind).Observe(elapsed.Seconds())
	m.logger.ActionCompleted(ctx, m.name, label(state), kind, elapsed)
}

func (m *Machine[S, E]) notify(state S) {
	m.mu.RLock()
	subs := slices.Clone(m.subs)
	m.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(state)
	}
}

// enqueue appends a job and, if nobody is dispatching, drains the queue on the
// calling goroutine.
func (m *Machine[S, E]) enqueue(ctx context.Context, transition bool, run func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}

	depth := m.chainDepth(ctx)
	if transition {
		depth++

		if depth > m.maxChain {
			panic(fmt.Errorf("%w: machine %s exceeded %d chained transitions", ErrRunawayChain, m.name, m.maxChain))
		}
	}

	m.queueMu.Lock()
	m.queue = append(m.queue, job{ctx: m.withChainDepth(ctx, depth), run: run})

	if m.dispatching {
		m.queueMu.Unlock()

		return
	}

	m.dispatching = true
	m.queueMu.Unlock()

	m.drain()
}

func (m *Machine[S, E]) drain() {
	defer func() {
		if r := recover(); r != nil {
			// Leave the machine usable for the next caller before propagating.
			m.queueMu.Lock()
			m.queue = nil
			m.dispatching = false
			m.queueMu.Unlock()

			panic(r)
		}
	}()

	for {
		m.queueMu.Lock()
		if len(m.queue) == 0 {
			m.dispatching = false
			m.queueMu.Unlock()

			return
		}

		next := m.queue[0]
		m.queue[0] = job{}
		m.queue = m.queue[1:]
		m.queueMu.Unlock()

		next.run(next.ctx)
	}
}

// Detach returns a context whose chain depth for this machine is reset. Actions that
// hand their context to asynchronous work (a network request that transitions the
// machine when it completes) must detach it first; otherwise every round trip would
// count toward the synchronous chain limit.
func (m *Machine[S, E]) Detach(ctx context.Context) context.Context {
	return m.withChainDepth(ctx, 0)
}

type chainKey struct {
	owner any
}

func (m *Machine[S, E]) chainDepth(ctx context.Context) int {
	depth, _ := ctx.Value(chainKey{owner: m}).(int)

	return depth
}

func (m *Machine[S, E]) withChainDepth(ctx context.Context, depth int) context.Context {
	if depth == m.chainDepth(ctx) {
		return ctx
	}

	return context.WithValue(ctx, chainKey{owner: m}, depth)
}
