// Package bgworker runs remote fetches off the caller's goroutine on a bounded pool.
package bgworker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alitto/pond/v2"
	"github.com/amp-labs/catalog-fsm/logger"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultWorkerCount = 8

// ErrStopped is returned by Go once the pool has been stopped.
var ErrStopped = errors.New("worker pool stopped")

// Pool is a bounded set of workers. The zero value is not usable; call New.
type Pool struct {
	name string
	pool pond.Pool
}

// New starts a pool with the given number of workers (8 if count < 1).
func New(name string, count int) *Pool {
	if count < 1 {
		count = defaultWorkerCount
	}

	slog.Debug("Initializing background worker pool", "pool", name, "count", count)

	return &Pool{name: name, pool: pond.NewPool(count)}
}

// Submit queues f and returns a Task that can be waited on.
func (p *Pool) Submit(f func()) pond.Task { //nolint:ireturn
	return p.pool.Submit(f)
}

// Go queues f and returns immediately.
func (p *Pool) Go(ctx context.Context, f func()) error {
	if p.pool.Stopped() {
		return ErrStopped
	}

	if err := p.pool.Go(f); err != nil {
		logger.Get(ctx).Warn("background task rejected", "pool", p.name, "error", err)

		return errors.Join(ErrStopped, err)
	}

	return nil
}

// Stop waits for queued work to finish and refuses new work.
func (p *Pool) Stop() {
	slog.Debug("Stopping background worker pool", "pool", p.name)
	p.pool.StopAndWait()
	slog.Debug("Background worker pool stopped", "pool", p.name)
}

// Collectors exposes running workers and waiting tasks as gauges.
func (p *Pool) Collectors() []prometheus.Collector {
	labels := prometheus.Labels{"pool": p.name}

	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "bgworker_running_workers",
			Help:        "Workers currently executing a task.",
			ConstLabels: labels,
		}, func() float64 { return float64(p.pool.RunningWorkers()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "bgworker_waiting_tasks",
			Help:        "Tasks queued but not yet started.",
			ConstLabels: labels,
		}, func() float64 { return float64(p.pool.WaitingTasks()) }),
	}
}
