package cache

import (
	"sync"

	"github.com/23skdu/longbow-archer/internal/launch"
)

// ConfigCache defines a generic interface for caching resolved launch
// configurations, keyed by a digest of the resolve request.
type ConfigCache interface {
	// Get retrieves a resolved configuration from the cache.
	Get(key string) (launch.Config, bool)
	// Put stores a resolved configuration in the cache.
	Put(key string, cfg launch.Config)
	// Size returns the number of items in the cache.
	Size() int
}

// MapCache is a simple in-memory implementation of ConfigCache.
type MapCache struct {
	data map[string]launch.Config
	mu   sync.RWMutex
}

func NewMapCache() *MapCache {
	return &MapCache{
		data: make(map[string]launch.Config),
	}
}

func (c *MapCache) Get(key string) (launch.Config, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cfg, ok := c.data[key]
	return cfg, ok
}

func (c *MapCache) Put(key string, cfg launch.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cfg
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
