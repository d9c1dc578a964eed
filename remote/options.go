package remote

import (
	"net/http"
	"time"

	"github.com/amp-labs/catalog-fsm/bgworker"
	"github.com/amp-labs/catalog-fsm/config"
	"github.com/amp-labs/catalog-fsm/storage"
)

const (
	defaultRetry      = 2
	defaultRetryDelay = 2 * time.Second
	defaultTimeout    = 30 * time.Second
)

// Option configures a ServerContext or an APIRequest.
type Option func(*options)

type options struct {
	client     *http.Client
	pool       *bgworker.Pool
	cache      storage.Store
	retry      uint
	retryDelay time.Duration
	timeout    time.Duration
	envelope   bool
	header     http.Header
	method     string
}

func newOptions(opts []Option) *options {
	o := &options{
		retry:      defaultRetry,
		retryDelay: defaultRetryDelay,
		timeout:    defaultTimeout,
		header:     make(http.Header),
		method:     http.MethodGet,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.client == nil {
		o.client = http.DefaultClient
	}

	if o.pool == nil {
		o.pool = defaultPool()
	}

	return o
}

// WithClient sets the HTTP client. Use transport.New for production clients.
func WithClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// WithPool runs fetches on p instead of the shared package pool.
func WithPool(p *bgworker.Pool) Option {
	return func(o *options) {
		o.pool = p
	}
}

// WithCache enables the offline cache: the last good payload is persisted in s and
// replayed on the next cold load while the network request is in flight.
func WithCache(s storage.Store) Option {
	return func(o *options) {
		o.cache = s
	}
}

// WithRetry sets how many times a failed fetch is retried and the base delay.
func WithRetry(retries uint, delay time.Duration) Option {
	return func(o *options) {
		o.retry = retries
		if delay > 0 {
			o.retryDelay = delay
		}
	}
}

// WithTimeout bounds one fetch, retries included.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithEnvelope declares that each collection item wraps its record under "data".
func WithEnvelope() Option {
	return func(o *options) {
		o.envelope = true
	}
}

// WithBearer sends token as a bearer Authorization header.
func WithBearer(token string) Option {
	return func(o *options) {
		if token != "" {
			o.header.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithMethod sets the HTTP method of an APIRequest.
func WithMethod(method string) Option {
	return func(o *options) {
		o.method = method
	}
}

// FromConfig translates the fetch section of the configuration into options.
func FromConfig(cfg config.Fetch) []Option {
	return []Option{
		WithRetry(cfg.Retry, cfg.RetryDelay),
		WithTimeout(cfg.Timeout),
	}
}
