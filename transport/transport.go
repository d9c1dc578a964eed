// Package transport builds the HTTP client the remote contexts fetch with: a pooled
// transport dialing through a DNS cache, transparent response decompression and
// per-request logging.
package transport

import (
	"net"
	"net/http"
	"time"
)

const (
	defaultIdleConnTimeout       = 90 * time.Second
	defaultMaxIdleConns          = 100
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultDialTimeout           = 30 * time.Second
	defaultKeepAlive             = 30 * time.Second
	defaultClientTimeout         = 30 * time.Second
)

// Option configures New.
type Option func(*options)

type options struct {
	dnsCache bool
	timeout  time.Duration
	logging  bool
	base     http.RoundTripper
}

// WithoutDNSCache dials with the system resolver on every connection.
func WithoutDNSCache() Option {
	return func(o *options) {
		o.dnsCache = false
	}
}

// WithTimeout bounds each request, body read included.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithoutLogging disables the request/response debug log.
func WithoutLogging() Option {
	return func(o *options) {
		o.logging = false
	}
}

// WithBase replaces the pooled transport, for tests.
func WithBase(rt http.RoundTripper) Option {
	return func(o *options) {
		o.base = rt
	}
}

// New returns a client for talking to the store API.
func New(opts ...Option) *http.Client {
	o := &options{
		dnsCache: true,
		timeout:  defaultClientTimeout,
		logging:  true,
	}

	for _, opt := range opts {
		opt(o)
	}

	rt := o.base
	if rt == nil {
		rt = newPooled(o.dnsCache)
	}

	rt = NewDecompressor(rt)

	if o.logging {
		rt = NewLoggingTransport(rt)
	}

	return &http.Client{
		Transport: rt,
		Timeout:   o.timeout,
	}
}

func newPooled(dnsCache bool) *http.Transport {
	trans := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          defaultMaxIdleConns,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
		// Decompression is done by NewDecompressor so every encoding is handled the same way.
		DisableCompression: true,
	}

	if dnsCache {
		useDNSCacheDialer(trans, defaultDialTimeout, defaultKeepAlive)
	} else {
		trans.DialContext = (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultKeepAlive,
		}).DialContext
	}

	return trans
}
