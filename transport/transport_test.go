package transport

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productJSON = `{"ok":true,"data":{"tile-1":{"data":{"id":"tile-1"}}}}`

func compressedServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Query().Get("encoding") {
		case "gzip":
			w.Header().Set("Content-Encoding", "gzip")

			gz := gzip.NewWriter(w)
			_, _ = io.WriteString(gz, productJSON)
			_ = gz.Close()
		case "br":
			w.Header().Set("Content-Encoding", "br")

			br := brotli.NewWriter(w)
			_, _ = io.WriteString(br, productJSON)
			_ = br.Close()
		default:
			_, _ = io.WriteString(w, productJSON)
		}
	}))

	t.Cleanup(srv.Close)

	return srv
}

func TestClientDecompresses(t *testing.T) {
	t.Parallel()

	srv := compressedServer(t)
	client := New(WithTimeout(5 * time.Second))

	for _, encoding := range []string{"", "gzip", "br"} {
		t.Run("encoding="+encoding, func(t *testing.T) {
			t.Parallel()

			req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/?encoding="+encoding, nil)
			require.NoError(t, err)

			rsp, err := client.Do(req)
			require.NoError(t, err)

			defer func() { _ = rsp.Body.Close() }()

			body, err := io.ReadAll(rsp.Body)
			require.NoError(t, err)
			assert.JSONEq(t, productJSON, string(body))
			assert.Empty(t, rsp.Header.Get("Content-Encoding"))
		})
	}
}

func TestClientWithoutDNSCache(t *testing.T) {
	t.Parallel()

	srv := compressedServer(t)
	client := New(WithoutDNSCache(), WithoutLogging())

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	rsp, err := client.Do(req)
	require.NoError(t, err)

	defer func() { _ = rsp.Body.Close() }()

	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	RefreshDNS()
}

type failingTransport struct{ err error }

func (f failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, f.err
}

func TestLoggingTransportPassesErrors(t *testing.T) {
	t.Parallel()

	want := io.ErrUnexpectedEOF
	client := New(WithBase(failingTransport{err: want}))

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, "http://store.invalid/api?token=secret", nil)
	require.NoError(t, err)

	_, err = client.Do(req) //nolint:bodyclose
	require.ErrorIs(t, err, want)
}

func TestRedactedURL(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "http://store.example/api/v1/user/info?token=secret", nil)
	assert.Equal(t, "http://store.example/api/v1/user/info?redacted", redactedURL(req))

	req = httptest.NewRequest(http.MethodGet, "http://store.example/api/v1/store/", nil)
	assert.Equal(t, "http://store.example/api/v1/store/", redactedURL(req))
}

func TestDecompressorClosesBothBodies(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	_, _ = io.WriteString(gz, "hello")
	require.NoError(t, gz.Close())

	body := &trackingBody{Reader: bytes.NewReader(buf.Bytes())}
	rt := NewDecompressor(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Encoding": []string{"gzip"}},
			Body:       body,
		}, nil
	}))

	rsp, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://store.example/", nil))
	require.NoError(t, err)

	got, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	require.NoError(t, rsp.Body.Close())
	assert.True(t, body.closed)
	assert.Equal(t, int64(-1), rsp.ContentLength)
}

func TestNewDecompressorPanicsOnNil(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { NewDecompressor(nil) })
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type trackingBody struct {
	io.Reader

	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true

	return nil
}
