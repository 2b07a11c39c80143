package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache keeps classifier replies for the life of the process
type MemoryCache struct {
	items *gocache.Cache
}

// NewMemoryCache expires entries after ttl and sweeps every cleanup.
// A non-positive ttl keeps entries until Clear.
func NewMemoryCache(ttl, cleanup time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &MemoryCache{items: gocache.New(ttl, cleanup)}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Set stores a copy of value. A zero ttl means the cache default.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	c.items.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (c *MemoryCache) Delete(key string) error {
	c.items.Delete(key)
	return nil
}

func (c *MemoryCache) Clear() error {
	c.items.Flush()
	return nil
}
