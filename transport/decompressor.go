package transport

import (
	"errors"
	"io"
	"net/http"

	"github.com/fereidani/httpdecompressor"
)

// NewDecompressor wraps roundTripper so response bodies compressed with gzip,
// deflate, br or zstd are decoded transparently. Closing the body closes the
// decoder and then the underlying connection body.
func NewDecompressor(roundTripper http.RoundTripper) http.RoundTripper {
	if roundTripper == nil {
		panic("NewDecompressor: roundTripper is nil")
	}

	return &decompressor{roundTripper: roundTripper}
}

type decompressor struct {
	roundTripper http.RoundTripper
}

func (d *decompressor) RoundTrip(request *http.Request) (*http.Response, error) {
	rsp, err := d.roundTripper.RoundTrip(request)
	if err != nil {
		return rsp, err
	}

	origBody := rsp.Body

	bodyReader, err := httpdecompressor.Reader(rsp)
	if err != nil {
		_ = origBody.Close()

		return nil, err
	}

	if bodyReader == origBody {
		return rsp, nil
	}

	rsp.Body = &decodedBody{Reader: bodyReader, closers: []io.Closer{bodyReader, origBody}}
	rsp.Header.Del("Content-Encoding")
	rsp.Header.Del("Content-Length")
	rsp.ContentLength = -1
	rsp.Uncompressed = true

	return rsp, nil
}

var _ http.RoundTripper = (*decompressor)(nil)

// decodedBody closes the decoder first, then the original body.
type decodedBody struct {
	io.Reader

	closers []io.Closer
}

func (b *decodedBody) Close() error {
	var errs []error

	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
