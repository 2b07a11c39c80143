// Package cache stores classification results so re-enriching the same
// reviews does not call the inference APIs again.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/LuisMada/SentiScan/internal/model"
)

const keyPrefix = "sentiscan:v1:"

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key builds a cache key from its parts, e.g. kind, model and review text
func Key(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return keyPrefix + hex.EncodeToString(hash[:])
}

// New builds the cache described by cfg. A disabled cache stores nothing.
// A relative dir is resolved against baseDir.
func New(cfg model.CacheConfig, baseDir string) Cache {
	if !cfg.Enabled {
		return Noop{}
	}
	dir := cfg.Dir
	if dir == "" {
		dir = ".sentiscan-cache"
	}
	if !filepath.IsAbs(dir) && baseDir != "" {
		dir = filepath.Join(baseDir, dir)
	}
	return NewLayeredCache(time.Hour, dir, cfg.TTL)
}

// GetJSON decodes a cached JSON value into out
func GetJSON(c Cache, key string, out any) bool {
	data, ok := c.Get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

// SetJSON stores v as JSON
func SetJSON(c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(key, data, ttl)
}

// Noop is a cache that never hits
type Noop struct{}

func (Noop) Get(string) ([]byte, bool)               { return nil, false }
func (Noop) Set(string, []byte, time.Duration) error { return nil }
func (Noop) Delete(string) error                     { return nil }
func (Noop) Clear() error                            { return nil }
