package cache

import (
	"errors"
	"time"
)

// LayeredCache reads through a process-local layer to the on-disk layer.
// Writes go to both; only the disk layer survives between runs.
type LayeredCache struct {
	memory *MemoryCache
	disk   *DiskCache
}

// NewLayeredCache keeps hot entries in memory for memoryTTL and entries on
// disk under diskDir for diskTTL
func NewLayeredCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	return &LayeredCache{
		memory: NewMemoryCache(memoryTTL, 10*time.Minute),
		disk:   NewDiskCache(diskDir, diskTTL),
	}
}

// Get returns a memory hit, else a disk hit copied into memory
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if v, ok := c.memory.Get(key); ok {
		return v, true
	}
	v, ok := c.disk.Get(key)
	if !ok {
		return nil, false
	}
	_ = c.memory.Set(key, v, 0)
	return v, true
}

// Set writes through to disk. A disk failure still leaves the memory entry.
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	_ = c.memory.Set(key, value, 0)
	return c.disk.Set(key, value, ttl)
}

func (c *LayeredCache) Delete(key string) error {
	return errors.Join(c.memory.Delete(key), c.disk.Delete(key))
}

func (c *LayeredCache) Clear() error {
	return errors.Join(c.memory.Clear(), c.disk.Clear())
}
