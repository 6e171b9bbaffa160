package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "booktracker"
	redisTimeout   = 3 * time.Second
)

// Redis persists values as plain string keys under
// booktracker:<origin>:<key>, letting several client processes share one
// session.
type Redis struct {
	client *redis.Client
	origin string
}

// NewRedis wraps an existing client. The store owns the client and closes
// it on Close.
func NewRedis(client *redis.Client, origin string) *Redis {
	return &Redis{client: client, origin: origin}
}

func (r *Redis) key(k string) string {
	return redisKeyPrefix + ":" + r.origin + ":" + k
}

// Get implements Store.
func (r *Redis) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: redis get %s: %w", key, err)
	}
	return v, true, nil
}

// Set implements Store.
func (r *Redis) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("store: redis set %s: %w", key, err)
	}
	return nil
}

// SetAll implements BatchSetter using a MULTI/EXEC pipeline.
func (r *Redis) SetAll(values map[string]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, r.key(k), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: redis set batch: %w", err)
	}
	return nil
}

// Remove implements Store.
func (r *Redis) Remove(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("store: redis del: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
