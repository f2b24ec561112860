package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// flushScanCount is the SCAN page size used by FlushPattern.
const flushScanCount = 256

// Remote is the distributed Tier-2 contract. It is satisfied by
// RedisCache and by test fakes simulating an unreachable tier.
type Remote interface {
	// Get returns (data, found, error). A miss is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl of zero or less means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes a single key.
	Delete(ctx context.Context, key string) error

	// FlushPattern deletes every key matching the glob pattern. The
	// operation is eventually consistent with respect to concurrent
	// writers: a key written while the scan runs may survive.
	FlushPattern(ctx context.Context, pattern string) (int, error)
}

// RedisCache implements the distributed tier on a Redis key/value store.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisCacheFromURL connects from a redis:// URL.
func NewRedisCacheFromURL(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Get fetches key, mapping redis.Nil to a plain miss.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return data, true, nil
}

// Set stores data under key with the given TTL (zero means persist).
func (r *RedisCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes a single key; deleting an absent key is a no-op.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// FlushPattern SCANs for keys matching the glob and deletes them in
// pages, returning how many were removed. SCAN+DEL is not an atomic
// snapshot; concurrent writers may slip keys past it.
func (r *RedisCache) FlushPattern(ctx context.Context, pattern string) (int, error) {
	deleted := 0
	iter := r.client.Scan(ctx, 0, pattern, flushScanCount).Iterator()

	page := make([]string, 0, flushScanCount)
	flushPage := func() error {
		if len(page) == 0 {
			return nil
		}
		n, err := r.client.Del(ctx, page...).Result()
		deleted += int(n)
		page = page[:0]
		return err
	}

	for iter.Next(ctx) {
		page = append(page, iter.Val())
		if len(page) >= flushScanCount {
			if err := flushPage(); err != nil {
				return deleted, fmt.Errorf("redis flush pattern %q: %w", pattern, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan pattern %q: %w", pattern, err)
	}
	if err := flushPage(); err != nil {
		return deleted, fmt.Errorf("redis flush pattern %q: %w", pattern, err)
	}

	return deleted, nil
}

// Ping probes tier reachability.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client's connections.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
