// Package cache is a small JSON read-through cache on top of Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func New(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

func (c *Cache) key(name string) string {
	return c.prefix + name
}

func (c *Cache) Get(ctx context.Context, name string, dest any) error {
	if c == nil {
		return ErrMiss
	}
	raw, err := c.client.Get(ctx, c.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("cache get %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("cache decode %s: %w", name, err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, name string, value any) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", name, err)
	}
	if err := c.client.Set(ctx, c.key(name), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", name, err)
	}
	return nil
}

// Invalidate removes every key whose name starts with namePrefix. A nil
// cache is a no-op.
func (c *Cache) Invalidate(ctx context.Context, namePrefix string) error {
	if c == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, c.key(namePrefix)+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan %s: %w", namePrefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", namePrefix, err)
	}
	return nil
}

// Load returns the cached value for name, or calls fill and caches its
// result. Cache failures fall through to fill.
func Load[T any](ctx context.Context, c *Cache, name string, fill func(context.Context) (T, error)) (T, error) {
	var out T
	if c == nil {
		return fill(ctx)
	}
	if err := c.Get(ctx, name, &out); err == nil {
		return out, nil
	}
	out, err := fill(ctx)
	if err != nil {
		return out, err
	}
	_ = c.Set(ctx, name, out)
	return out, nil
}
