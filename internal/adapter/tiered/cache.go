// Package tiered layers the in-process result cache over a shared one.
package tiered

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Strob0t/SearchForge/internal/port/cache"
)

// Cache reads through near to far. Far-tier read failures are logged and
// reported as misses so a flaky L2 never fails a result lookup.
type Cache struct {
	near, far cache.Cache
	nearTTL   time.Duration
}

// New layers near over far. nearTTL caps how long entries stay in near;
// zero leaves the caller's ttl alone.
func New(near, far cache.Cache, nearTTL time.Duration) *Cache {
	return &Cache{near: near, far: far, nearTTL: nearTTL}
}

func (c *Cache) capTTL(ttl time.Duration) time.Duration {
	if c.nearTTL <= 0 {
		return ttl
	}
	if ttl <= 0 || ttl > c.nearTTL {
		return c.nearTTL
	}
	return ttl
}

// Get returns the near value, else the far one, promoting it into near.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	if data, ok, err = c.near.Get(ctx, key); err == nil && ok {
		return data, true, nil
	} else if err != nil {
		slog.Debug("l1 cache read failed", "key", key, "error", err)
	}

	data, ok, err = c.far.Get(ctx, key)
	switch {
	case err != nil:
		slog.Warn("l2 cache read failed", "key", key, "error", err)
		return nil, false, nil
	case !ok:
		return nil, false, nil
	}
	if err := c.near.Set(ctx, key, data, c.capTTL(0)); err != nil {
		slog.Debug("l1 promote failed", "key", key, "error", err)
	}
	return data, true, nil
}

// Set stores in near first. A far-tier failure is returned with near already updated.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.near.Set(ctx, key, value, c.capTTL(ttl)); err != nil {
		return err
	}
	return c.far.Set(ctx, key, value, ttl)
}

// Delete removes key from both tiers, attempting both even if one fails.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return errors.Join(c.near.Delete(ctx, key), c.far.Delete(ctx, key))
}
