package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JSONCache stores JSON-encoded values under a key prefix with a fixed TTL.
// It is a read-through helper: callers own invalidation.
type JSONCache struct {
	kv     KV
	prefix string
	ttl    time.Duration
}

func NewJSONCache(kv KV, prefix string, ttl time.Duration) *JSONCache {
	return &JSONCache{kv: kv, prefix: prefix, ttl: ttl}
}

func (c *JSONCache) key(k string) string {
	return c.prefix + ":" + k
}

// Get decodes the value for k into dst. It reports false on a miss.
func (c *JSONCache) Get(ctx context.Context, k string, dst interface{}) (bool, error) {
	raw, err := c.kv.Get(ctx, c.key(k))
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", k, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		// A value we cannot decode is treated as a miss and dropped.
		_ = c.kv.Del(ctx, c.key(k))
		return false, nil
	}
	return true, nil
}

func (c *JSONCache) Put(ctx context.Context, k string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", k, err)
	}
	if err := c.kv.Set(ctx, c.key(k), string(b), c.ttl); err != nil {
		return fmt.Errorf("cache set %s: %w", k, err)
	}
	return nil
}

func (c *JSONCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.kv.Del(ctx, full...); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
