package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrCorruptValue is returned when a stored value does not carry a known codec tag.
var ErrCorruptValue = errors.New("corrupt stored value")

// Codec compresses values on their way into a Store.
type Codec interface {
	// Tag is written in front of every encoded value.
	Tag() byte
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

const (
	tagRaw  byte = 0
	tagLZ4  byte = 1
	tagZstd byte = 2
)

// CodecByName returns the codec configured as "lz4", "zstd" or "none".
func CodecByName(name string) (Codec, error) { //nolint:ireturn
	switch name {
	case "", "lz4":
		return LZ4{}, nil
	case "zstd":
		return NewZstd()
	case "none":
		return Raw{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Raw stores values uncompressed.
type Raw struct{}

func (Raw) Tag() byte { return tagRaw }

func (Raw) Encode(src []byte) ([]byte, error) { return src, nil }

func (Raw) Decode(src []byte) ([]byte, error) { return src, nil }

// LZ4 compresses with the lz4 frame format.
type LZ4 struct{}

func (LZ4) Tag() byte { return tagLZ4 }

func (LZ4) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer

	lw := lz4.NewWriter(&buf)

	if _, err := lw.Write(src); err != nil {
		return nil, fmt.Errorf("lz4 encode: %w", err)
	}

	if err := lw.Close(); err != nil {
		return nil, fmt.Errorf("lz4 encode: %w", err)
	}

	return buf.Bytes(), nil
}

func (LZ4) Decode(src []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(src)))
	if err != nil {
		return nil, fmt.Errorf("lz4 decode: %w", err)
	}

	return out, nil
}

// Zstd compresses with zstandard. Encoder and decoder are safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd builds a reusable zstd codec.
func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Tag() byte { return tagZstd }

func (z *Zstd) Encode(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, nil), nil
}

func (z *Zstd) Decode(src []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}

	return out, nil
}

// compressed encodes values with one codec and decodes whichever codec wrote them,
// so the configured codec can change without invalidating stored data.
type compressed struct {
	inner Store
	codec Codec
	zstd  func() (*Zstd, error)
}

// Compressed wraps s so values are encoded with codec.
func Compressed(s Store, codec Codec) Store { //nolint:ireturn
	c := &compressed{inner: s, codec: codec, zstd: sync.OnceValues(NewZstd)}

	if z, ok := codec.(*Zstd); ok {
		c.zstd = func() (*Zstd, error) { return z, nil }
	}

	return c
}

func (c *compressed) decoder(tag byte) (Codec, error) { //nolint:ireturn
	switch tag {
	case tagRaw:
		return Raw{}, nil
	case tagLZ4:
		return LZ4{}, nil
	case tagZstd:
		return c.zstd()
	default:
		return nil, ErrCorruptValue
	}
}

func (c *compressed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := c.inner.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}

	if len(raw) == 0 {
		return nil, false, fmt.Errorf("%w: %s", ErrCorruptValue, key)
	}

	codec, err := c.decoder(raw[0])
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", key, err)
	}

	out, err := codec.Decode(raw[1:])
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", key, err)
	}

	return out, true, nil
}

func (c *compressed) Set(ctx context.Context, key string, value []byte) error {
	encoded, err := c.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	out := make([]byte, 0, len(encoded)+1)
	out = append(out, c.codec.Tag())
	out = append(out, encoded...)

	return c.inner.Set(ctx, key, out)
}

func (c *compressed) Delete(ctx context.Context, key string) error {
	return c.inner.Delete(ctx, key)
}

func (c *compressed) Clear(ctx context.Context) error {
	return c.inner.Clear(ctx)
}
