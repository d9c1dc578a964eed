package remote

import (
	"context"
	"embed"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/amp-labs/catalog-fsm/fsm"
	"github.com/amp-labs/catalog-fsm/logger"
	"github.com/amp-labs/catalog-fsm/storage"
	"go.uber.org/atomic"
)

//go:embed machine.yaml
var definitionFS embed.FS

// Definition returns the lifecycle every ServerContext follows.
func Definition() *fsm.Definition {
	return fsm.MustLoadDefinitionFromFS(definitionFS, "machine.yaml")
}

// ServerContext is an HTTP-backed Source. Its payload is the decoded "data" collection
// of the resource at its URL; the revision is meta.updated (or a hash of the data).
//
// Entering loading replays the offline cache, if any, before the network answers.
// While a fetch is in flight further requests are dropped.
type ServerContext[R any] struct {
	name    string
	url     string
	opts    *options
	machine *fsm.Machine[State, Event]

	inFlight atomic.Bool

	mu      sync.RWMutex
	params  Params
	payload Payload[R, uint64]
	loaded  bool
}

var _ Source[struct{}, uint64] = (*ServerContext[struct{}])(nil)

// NewServerContext builds a context for the collection at rawURL.
func NewServerContext[R any](name, rawURL string, opts ...Option) (*ServerContext[R], error) {
	def := Definition()

	c := &ServerContext[R]{
		name: name,
		url:  rawURL,
		opts: newOptions(opts),
	}

	machine, err := fsm.New(name, StateInitial, fsm.TableFrom[State, Event](def),
		fsm.WithEnterAction[State, Event](StateLoading, c.onLoading),
		fsm.WithEnterAction[State, Event](StateReloading, c.onReloading),
	)
	if err != nil {
		return nil, err
	}

	c.machine = machine

	return c, nil
}

// Name returns the context name.
func (c *ServerContext[R]) Name() string {
	return c.name
}

// Machine exposes the underlying lifecycle machine, for diagrams and diagnostics.
func (c *ServerContext[R]) Machine() *fsm.Machine[State, Event] {
	return c.machine
}

// Request starts a fetch with the parameters of the previous request.
func (c *ServerContext[R]) Request(ctx context.Context) {
	c.machine.Transition(ctx, EventRequest)
}

// RequestWith starts a fetch with new parameters. They are kept for later Requests.
func (c *ServerContext[R]) RequestWith(ctx context.Context, p Params) {
	c.mu.Lock()
	c.params = p.clone()
	c.mu.Unlock()

	c.machine.Transition(ctx, EventRequest)
}

func (c *ServerContext[R]) State() State {
	return c.machine.State()
}

func (c *ServerContext[R]) Subscribe(fn func(State)) func() {
	return c.machine.Subscribe(fn)
}

// Payload returns the last materialized payload. Records are shared; treat them as read-only.
func (c *ServerContext[R]) Payload() (Payload[R, uint64], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.payload, c.loaded
}

func (c *ServerContext[R]) setPayload(p Payload[R, uint64]) {
	c.mu.Lock()
	c.payload = p
	c.loaded = true
	c.mu.Unlock()
}

func (c *ServerContext[R]) currentParams() Params {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.params.clone()
}

func (c *ServerContext[R]) onLoading(ctx context.Context, _ fsm.Transition[State, Event]) {
	if payload, ok := c.readCache(ctx); ok {
		c.setPayload(payload)
		requestsTotal.WithLabelValues(c.name, "cached").Inc()
		c.machine.Transition(ctx, EventCacheFound)
	}

	c.fetch(ctx)
}

func (c *ServerContext[R]) onReloading(ctx context.Context, t fsm.Transition[State, Event]) {
	// Reached through cacheFound the fetch started in loading is still running.
	if t.Event == EventRequest {
		c.fetch(ctx)
	}
}

func (c *ServerContext[R]) fetch(ctx context.Context) {
	log := logger.Get(ctx)

	if !c.inFlight.CompareAndSwap(false, true) {
		requestsTotal.WithLabelValues(c.name, "duplicate").Inc()
		log.Debug("request already in flight", "context", c.name)

		return
	}

	params := c.currentParams()
	bg := c.machine.Detach(context.WithoutCancel(ctx))

	err := c.opts.pool.Go(bg, func() {
		start := time.Now()

		fetchCtx, cancel := context.WithTimeout(bg, c.opts.timeout)
		defer cancel()

		payload, err := c.load(fetchCtx, params)

		observe(c.name, start, err)
		c.inFlight.Store(false)
		c.deliver(bg, payload, err)
	})
	if err != nil {
		c.inFlight.Store(false)
		log.Error("failed to schedule request", "context", c.name, "error", err)
		c.machine.Transition(ctx, EventFailed)
	}
}

func (c *ServerContext[R]) load(ctx context.Context, p Params) (Payload[R, uint64], error) {
	body, err := fetch(ctx, c.name, c.url, c.opts, p)
	if err != nil {
		return Payload[R, uint64]{}, err
	}

	return decodeCollection[R](body, c.opts.envelope)
}

// deliver applies a fetch result serialized with the context's transitions.
func (c *ServerContext[R]) deliver(ctx context.Context, payload Payload[R, uint64], err error) {
	c.machine.Do(ctx, func(ctx context.Context) {
		if err != nil {
			logger.Get(ctx).Warn("request failed", "context", c.name, "error", err)
			c.machine.Transition(ctx, EventFailed)

			return
		}

		c.setPayload(payload)
		c.writeCache(ctx, payload)
		c.machine.Transition(ctx, EventComplete)
	})
}

// cacheKey is stable per URL and query so different parameter sets do not collide.
func (c *ServerContext[R]) cacheKey() string {
	p := c.currentParams()

	sum := xxhash.ChecksumString64(c.url + "?" + p.Query.Encode())

	return "remote." + c.name + "." + strconv.FormatUint(sum, 16)
}

func (c *ServerContext[R]) readCache(ctx context.Context) (Payload[R, uint64], bool) {
	if c.opts.cache == nil {
		return Payload[R, uint64]{}, false
	}

	payload, ok, err := storage.GetJSON[Payload[R, uint64]](ctx, c.opts.cache, c.cacheKey())
	if err != nil {
		logger.Get(ctx).Warn("ignoring unreadable offline cache", "context", c.name, "error", err)

		return Payload[R, uint64]{}, false
	}

	return payload, ok
}

func (c *ServerContext[R]) writeCache(ctx context.Context, payload Payload[R, uint64]) {
	if c.opts.cache == nil {
		return
	}

	if err := storage.SetJSON(ctx, c.opts.cache, c.cacheKey(), payload); err != nil {
		logger.Get(ctx).Warn("failed to write offline cache", "context", c.name, "error", err)
	}
}

// String implements fmt.Stringer for diagnostics.
func (c *ServerContext[R]) String() string {
	return fmt.Sprintf("%s(%s)", c.name, c.State())
}
