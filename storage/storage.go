// Package storage persists small keyed blobs: cached remote payloads, derived
// store snapshots and the signed-in profile.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/amp-labs/catalog-fsm/config"
)

var (
	// ErrUnknownDriver is returned by Open for an unsupported backend name.
	ErrUnknownDriver = errors.New("unknown storage driver")
	// ErrUnknownCodec is returned by Open for an unsupported compression name.
	ErrUnknownCodec = errors.New("unknown storage codec")
	// ErrEmptyKey is returned when an operation is given a blank key.
	ErrEmptyKey = errors.New("storage key is required")
)

// Store is a flat key/value store. A missing key is reported through the boolean
// result of Get, never as an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Open builds the backend named by cfg.Driver and wraps it with the configured
// codec. The returned closer releases the backend.
func Open(ctx context.Context, cfg config.Storage) (Store, io.Closer, error) {
	codec, err := CodecByName(cfg.Codec)
	if err != nil {
		return nil, nil, err
	}

	var backend interface {
		Store
		io.Closer
	}

	switch cfg.Driver {
	case "", "memory":
		backend = NewMemory()
	case "sqlite":
		backend, err = OpenSQLite(ctx, cfg.SQLitePath)
	case "redis":
		backend, err = OpenRedis(ctx, cfg.RedisURL, cfg.Prefix)
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	if err != nil {
		return nil, nil, err
	}

	return Compressed(backend, codec), backend, nil
}

// GetJSON reads and decodes the value stored under key.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var out T

	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return out, false, err
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode %s: %w", key, err)
	}

	return out, true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	return s.Set(ctx, key, raw)
}
