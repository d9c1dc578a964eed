// Package shutdown coordinates a graceful stop: a context cancelled on SIGINT/SIGTERM
// and hooks that release resources in reverse order of registration.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"
)

// Hook releases one resource. The context carries the shutdown deadline.
type Hook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   Hook
}

// Coordinator collects hooks and runs them once.
type Coordinator struct {
	mu    sync.Mutex
	hooks []namedHook
	done  bool
}

// New returns an empty coordinator.
func New() *Coordinator {
	return &Coordinator{}
}

// BeforeShutdown registers fn. Hooks run last-registered first, so a resource
// registered after its dependencies is released before them.
func (c *Coordinator) BeforeShutdown(name string, fn Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hooks = append(c.hooks, namedHook{name: name, fn: fn})
}

// Closer adapts a Close method into a Hook.
func Closer(closeFn func() error) Hook {
	return func(context.Context) error {
		return closeFn()
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Shutdown runs every hook within timeout. Only the first call has an effect. Every
// hook runs even when an earlier one fails; the errors are joined.
func (c *Coordinator) Shutdown(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()

		return nil
	}

	c.done = true
	hooks := slices.Clone(c.hooks)
	c.hooks = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var errs []error

	for _, h := range slices.Backward(hooks) {
		slog.Debug("Running shutdown hook", "hook", h.name)

		if err := h.fn(ctx); err != nil {
			slog.Warn("Shutdown hook failed", "hook", h.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}

	return errors.Join(errs...)
}
