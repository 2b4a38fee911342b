package cache

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUReportCache keeps the most recent payloads in process. Entries expire
// after the TTL given at construction; the per-call ttl is ignored.
type LRUReportCache struct {
	entries *expirable.LRU[string, []byte]
}

func NewLRUReportCache(size int, ttl time.Duration) *LRUReportCache {
	if size < 1 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LRUReportCache{entries: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *LRUReportCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, ok := c.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(val), true, nil
}

func (c *LRUReportCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if len(value) == 0 {
		return nil
	}
	c.entries.Add(key, slices.Clone(value))
	return nil
}

func (c *LRUReportCache) Len() int {
	return c.entries.Len()
}
