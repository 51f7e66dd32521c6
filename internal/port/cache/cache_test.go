package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/SearchForge/internal/port/cache"
	"github.com/Strob0t/SearchForge/internal/port/cache/cachetest"
)

type mapCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

func TestComplianceSuiteOnMapCache(t *testing.T) {
	cachetest.RunComplianceTests(t, &mapCache{m: make(map[string][]byte)})
}

func TestResultKey(t *testing.T) {
	if got := cache.ResultKey("abc"); got != "search:abc:result" {
		t.Errorf("ResultKey = %q", got)
	}
}

func TestGetJSON_CorruptValue(t *testing.T) {
	c := &mapCache{m: map[string][]byte{"k": []byte("{not json")}}
	var v map[string]any
	found, err := cache.GetJSON(context.Background(), c, "k", &v)
	if err == nil || found {
		t.Errorf("GetJSON corrupt: found=%v err=%v", found, err)
	}
}
