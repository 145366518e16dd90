package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKV implements the KV contract on a Redis client. Keys are namespaced
// with a fixed prefix so the instance can be shared.
type RedisKV struct {
	rdb    *redis.Client
	prefix string
}

var _ KV = (*RedisKV)(nil)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisKV connects a Redis-backed KV store and verifies the connection.
func NewRedisKV(ctx context.Context, opts RedisOptions) (*RedisKV, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "bma"
	}
	return &RedisKV{rdb: rdb, prefix: prefix}, nil
}

// Close releases the underlying client.
func (r *RedisKV) Close() error { return r.rdb.Close() }

func (r *RedisKV) key(k string) string { return r.prefix + ":" + k }

// Get returns the value and whether the key exists.
func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.rdb.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return val, true, nil
}

// Set replaces the value at key.
func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes the key; deleting a missing key is not an error.
func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// IncrByFloat atomically adds delta to a numeric counter.
func (r *RedisKV) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	val, err := r.rdb.IncrByFloat(ctx, r.key(key), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return val, nil
}
