package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache adapts the Redis client to the byte-cache contract the config
// snapshot loaders consume.
type Cache struct {
	client *Client
}

// NewCache wraps a Redis client. A nil client yields a nil *Cache, which
// callers treat as "no shared cache".
func NewCache(client *Client) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{client: client}
}

// Get fetches a cached value. The second return is false on a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Set stores a value with a TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}
