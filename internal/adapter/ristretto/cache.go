// Package ristretto keeps recent search results in process memory.
package ristretto

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// avgEntryBytes estimates a serialized result for sizing the admission counters.
const avgEntryBytes = 4 << 10

// Cache is a size-bounded L1 cache. Cost is the value length in bytes.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// Stats reports cache effectiveness since start.
type Stats struct {
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	Rejected uint64  `json:"rejected"`
	HitRatio float64 `json:"hit_ratio"`
}

// New allocates a cache holding at most maxBytes of values.
func New(maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("ristretto: size must be positive, got %d", maxBytes)
	}
	counters := max(maxBytes/avgEntryBytes*10, 1000)
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Cache{c: c}, nil
}

// Get returns a cached value.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	data, ok = c.c.Get(key)
	return data, ok, nil
}

// Set admits value for ttl (zero keeps it until evicted). The write is
// flushed before returning so the next Get sees it. Admission may still
// refuse the entry; that is logged, not returned.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if !c.c.SetWithTTL(key, value, int64(len(value)), ttl) {
		slog.Debug("l1 cache refused entry", "key", key, "bytes", len(value))
	}
	c.c.Wait()
	return nil
}

// Delete evicts key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Stats snapshots the hit and admission counters.
func (c *Cache) Stats() Stats {
	m := c.c.Metrics
	return Stats{
		Hits:     m.Hits(),
		Misses:   m.Misses(),
		Rejected: m.SetsRejected(),
		HitRatio: m.Ratio(),
	}
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
