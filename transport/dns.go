package transport

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

// dnsResolver is shared by every transport that enables DNS caching.
var dnsResolver = &dnscache.Resolver{} //nolint:gochecknoglobals

// RefreshDNS drops cache entries unused since the last refresh and re-resolves the rest.
// The application root calls it periodically.
func RefreshDNS() {
	dnsResolver.Refresh(true)
}

// useDNSCacheDialer makes trans resolve hosts through the shared cache, trying each
// address in turn until one accepts the connection.
func useDNSCacheDialer(trans *http.Transport, timeout, keepAlive time.Duration) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: keepAlive,
	}

	trans.DialContext = func(ctx context.Context, network string, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		ips, err := dnsResolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}

		var conn net.Conn

		for _, ip := range ips {
			conn, err = dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
		}

		return nil, err
	}
}
