package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DiskCache keeps one JSON file per key, sharded by the first two hash
// characters so a long backfill does not produce one huge directory
type DiskCache struct {
	dir string
	ttl time.Duration
}

// NewDiskCache stores entries under dir; ttl 0 means seven days
func NewDiskCache(dir string, ttl time.Duration) *DiskCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &DiskCache{dir: dir, ttl: ttl}
}

// diskEntry is the file format of one cached value
type diskEntry struct {
	Value   []byte    `json:"value"`
	Expires time.Time `json:"expires"`
}

// Get returns an unexpired entry. Expired or unreadable files are removed.
func (c *DiskCache) Get(key string) ([]byte, bool) {
	path := c.path(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var e diskEntry
	if err := json.Unmarshal(raw, &e); err != nil || !time.Now().Before(e.Expires) {
		_ = os.Remove(path)
		return nil, false
	}
	return e.Value, true
}

// Set writes the entry to a temporary file and renames it into place, so a
// concurrent enrich worker never reads half an entry
func (c *DiskCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	raw, err := json.Marshal(diskEntry{Value: value, Expires: time.Now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	path := c.path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache shard: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(raw)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store cache file: %w", err)
	}
	return nil
}

// Delete removes a value from the disk cache. A missing entry is not an error.
func (c *DiskCache) Delete(key string) error {
	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Clear drops the whole cache directory
func (c *DiskCache) Clear() error {
	return os.RemoveAll(c.dir)
}

// path maps a key to <dir>/<shard>/<hash>.json
func (c *DiskCache) path(key string) string {
	name := strings.TrimPrefix(key, keyPrefix)
	name = strings.NewReplacer("/", "_", ":", "_", string(os.PathSeparator), "_").Replace(name)
	shard := "00"
	if len(name) >= 2 {
		shard = name[:2]
	}
	return filepath.Join(c.dir, shard, name+".json")
}
