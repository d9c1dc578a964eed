package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amp-labs/catalog-fsm/retry"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrFailedToParseRedisURL is returned when the connection URL is invalid.
	ErrFailedToParseRedisURL = errors.New("failed to parse redis connection url")
	// ErrRedisNotReady is returned when the server never answered a ping.
	ErrRedisNotReady = errors.New("redis did not become ready")
)

const (
	redisConnectAttempts = 3
	redisConnectDelay    = 500 * time.Millisecond
	redisScanBatch       = 100
)

// Redis stores values under a key prefix so several apps can share a database.
type Redis struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to the server at url, pinging with retries until it answers.
func OpenRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisURL, err)
	}

	client := redis.NewClient(opts)

	err = retry.Do(ctx, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	},
		retry.WithAttempts(redisConnectAttempts),
		retry.WithBackoff(retry.ConstantBackoff(redisConnectDelay)),
	)
	if err != nil {
		_ = client.Close()

		return nil, errors.Join(ErrRedisNotReady, err)
	}

	return NewRedis(client, prefix), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(key string) string {
	return r.prefix + key
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}

	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	return nil
}

// Clear deletes every key under the prefix.
func (r *Redis) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", redisScanBatch).Iterator()

	var batch []string

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())

		if len(batch) == redisScanBatch {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("clear: %w", err)
			}

			batch = batch[:0]
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}

	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}

	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
