package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/amp-labs/catalog-fsm/bgworker"
	"github.com/amp-labs/catalog-fsm/logger"
	"github.com/amp-labs/catalog-fsm/retry"
	"github.com/amp-labs/catalog-fsm/transport"
)

const maxBodySize = 32 << 20

// defaultPool is shared by every context and request not given a pool of its own.
var defaultPool = sync.OnceValue(func() *bgworker.Pool { //nolint:gochecknoglobals
	return bgworker.New("remote", 0)
})

// StatusError carries the status of a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d %s", ErrUnexpectedStatus, e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRejected) || errors.Is(err, ErrMalformedResponse) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError || se.Code == http.StatusTooManyRequests
	}

	return true
}

// fetch performs one request with retries and returns the UTF-8 body.
func fetch(ctx context.Context, name, rawURL string, o *options, p Params) ([]byte, error) {
	backoff := retry.ExpBackoff{Base: o.retryDelay, Max: 4 * o.retryDelay, Factor: 2} //nolint:mnd

	body, err := retry.DoValue(ctx, func(ctx context.Context) ([]byte, error) {
		body, err := fetchOnce(ctx, rawURL, o, p)
		if err != nil && !retryable(err) {
			return nil, retry.Abort(err)
		}

		return body, err
	},
		retry.WithAttempts(o.retry+1),
		retry.WithBackoff(backoff),
		retry.OnRetry(func(attempt uint, err error) {
			logger.Get(ctx).Warn("retrying request",
				"context", name,
				"attempt", attempt+1,
				"error", err)
		}),
	)
	if err != nil {
		return nil, logger.AnnotateError(err, "method", o.method, "url", rawURL)
	}

	return body, nil
}

func fetchOnce(ctx context.Context, rawURL string, o *options, p Params) ([]byte, error) {
	var body io.Reader
	if p.Body != nil {
		body = bytes.NewReader(p.Body)
	}

	req, err := http.NewRequestWithContext(ctx, o.method, rawURL, body)
	if err != nil {
		return nil, retry.Abort(err)
	}

	if len(p.Query) > 0 {
		q := req.URL.Query()
		for k, vs := range p.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}

		req.URL.RawQuery = q.Encode()
	}

	for k, vs := range o.header {
		req.Header[k] = append([]string(nil), vs...)
	}

	for k, vs := range p.Header {
		req.Header[k] = append([]string(nil), vs...)
	}

	req.Header.Set("Accept", "application/json")

	if p.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rsp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() { _ = rsp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(rsp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}

	switch {
	case rsp.StatusCode == http.StatusUnauthorized || rsp.StatusCode == http.StatusForbidden:
		return nil, logger.AnnotateError(fmt.Errorf("%w: %d", ErrUnauthorized, rsp.StatusCode), "status", rsp.StatusCode)
	case rsp.StatusCode < 200 || rsp.StatusCode > 299:
		return nil, logger.AnnotateError(&StatusError{Code: rsp.StatusCode}, "status", rsp.StatusCode)
	}

	utf8Data, _, err := transport.ToUTF8(data, rsp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	return utf8Data, nil
}

// outcome classifies an error for the requests metric.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "failed"
	}
}

func observe(name string, start time.Time, err error) {
	requestsTotal.WithLabelValues(name, outcome(err)).Inc()
	requestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}
