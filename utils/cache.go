package utils

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nci/gomemcache/memcache"
)

var (
	ErrCacheMiss         = errors.New("cache miss")
	ErrCacheItemTooLarge = errors.New("cache item too large")
)

// DefaultMemcacheItemSize is memcached's default item size limit.
const DefaultMemcacheItemSize = 1024 * 1024

// Cache stores encoded query results.
type Cache interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

// MemcacheCache talks to a memcached server. Connections are lazy, errors
// surface from Get and Set.
type MemcacheCache struct {
	MaxItemSize int

	mc *memcache.Client
}

func NewMemcacheCache(addr string) *MemcacheCache {
	return &MemcacheCache{MaxItemSize: DefaultMemcacheItemSize, mc: memcache.New(addr)}
}

func (c *MemcacheCache) Get(key string) ([]byte, error) {
	item, err := c.mc.Get(key)
	if err == memcache.ErrCacheMiss {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

func (c *MemcacheCache) Set(key string, value []byte) error {
	if err := checkItemSize(value, c.MaxItemSize); err != nil {
		return err
	}
	return c.mc.Set(&memcache.Item{Key: key, Value: value})
}

func checkItemSize(value []byte, limit int) error {
	if limit > 0 && len(value) > limit {
		return fmt.Errorf("%w: %d bytes > %d", ErrCacheItemTooLarge, len(value), limit)
	}
	return nil
}

// MemoryCache keeps values in process. Entries beyond MaxEntries evict the
// oldest insertion. A zero MaxItemSize accepts any value.
type MemoryCache struct {
	MaxEntries  int
	MaxItemSize int

	mu    sync.Mutex
	items map[string][]byte
	order []string
}

func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{MaxEntries: maxEntries, items: map[string][]byte{}}
}

func (c *MemoryCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (c *MemoryCache) Set(key string, value []byte) error {
	if err := checkItemSize(value, c.MaxItemSize); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = map[string][]byte{}
	}
	if _, ok := c.items[key]; !ok {
		c.order = append(c.order, key)
	}
	c.items[key] = value
	for c.MaxEntries > 0 && len(c.order) > c.MaxEntries {
		delete(c.items, c.order[0])
		c.order = c.order[1:]
	}
	return nil
}

// NewCache returns a memcache client when addr is set and an in-memory cache
// otherwise.
func NewCache(addr string) Cache {
	if addr != "" {
		return NewMemcacheCache(addr)
	}
	return NewMemoryCache(64)
}
