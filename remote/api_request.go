package remote

import (
	"context"
	"time"

	"github.com/amp-labs/catalog-fsm/logger"
)

// Response is the single result of an APIRequest.
type Response[T any] struct {
	Value T
	Err   error
}

// APIRequest sends one-off requests whose result is delivered exactly once, so callers
// never accumulate listeners across attempts.
type APIRequest[T any] struct {
	name string
	url  string
	opts *options
}

// NewAPIRequest builds a request against rawURL. The method defaults to GET.
func NewAPIRequest[T any](name, rawURL string, opts ...Option) *APIRequest[T] {
	return &APIRequest[T]{
		name: name,
		url:  rawURL,
		opts: newOptions(opts),
	}
}

// Name returns the request name.
func (r *APIRequest[T]) Name() string {
	return r.name
}

// Send starts the request in the background. The returned channel receives exactly one
// Response and is then closed. The request outlives ctx cancellation only up to the
// configured timeout; values such as the logger are kept.
func (r *APIRequest[T]) Send(ctx context.Context, p Params) <-chan Response[T] {
	out := make(chan Response[T], 1)
	p = p.clone()
	bg := context.WithoutCancel(ctx)

	err := r.opts.pool.Go(bg, func() {
		defer close(out)

		start := time.Now()

		reqCtx, cancel := context.WithTimeout(bg, r.opts.timeout)
		defer cancel()

		value, err := r.do(reqCtx, p)

		observe(r.name, start, err)

		if err != nil {
			logger.Get(bg).Warn("api request failed", "request", r.name, "error", err)
		}

		out <- Response[T]{Value: value, Err: err}
	})
	if err != nil {
		out <- Response[T]{Err: err}
		close(out)
	}

	return out
}

// Do sends the request and waits for its response or for ctx to be done.
func (r *APIRequest[T]) Do(ctx context.Context, p Params) (T, error) {
	select {
	case rsp := <-r.Send(ctx, p):
		return rsp.Value, rsp.Err
	case <-ctx.Done():
		var zero T

		return zero, ctx.Err()
	}
}

func (r *APIRequest[T]) do(ctx context.Context, p Params) (T, error) {
	body, err := fetch(ctx, r.name, r.url, r.opts, p)
	if err != nil {
		var zero T

		return zero, err
	}

	return decodeDocument[T](body)
}
