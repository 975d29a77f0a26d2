package fetchkit

import (
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
)

// Cache keeps frequently reused payloads in memory under a hard byte budget.
// Recency ordering comes from the underlying LRU list; the byte budget is
// enforced on top of it, evicting least-recently-used entries until a new
// entry fits.
//
// Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	capacity int64
	logger   *zap.Logger

	mu   sync.Mutex
	lru  *simplelru.LRU[string, []byte]
	size int64
}

// NewCache creates a cache holding at most capacity bytes.
func NewCache(capacity int64, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{capacity: capacity, logger: logger}

	// The entry-count bound of the underlying LRU never drives eviction;
	// entries are evicted by byte budget before the count can be reached.
	maxEntries := capacity
	if maxEntries > math.MaxInt32 {
		maxEntries = math.MaxInt32
	}
	if maxEntries < 1 {
		maxEntries = 1
	}
	lru, err := simplelru.NewLRU[string, []byte](int(maxEntries), c.onEvict)
	if err != nil {
		// Only reachable with a non-positive size, which is clamped above.
		panic(err)
	}
	c.lru = lru
	return c
}

// onEvict runs under c.mu for every entry leaving the LRU.
func (c *Cache) onEvict(key string, value []byte) {
	c.size -= int64(len(value))
}

// Get returns the cached value for key, bumping its recency. A miss has no
// side effects.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Put stores value under key, evicting least-recently-used entries until it
// fits. A value larger than the whole cache is rejected rather than flushing
// everything; Put reports whether the value was stored.
func (c *Cache) Put(key string, value []byte) bool {
	n := int64(len(value))
	if n > c.capacity {
		c.logger.Debug("cache rejected oversized value",
			zap.String("key", key),
			zap.Int64("size", n),
			zap.Int64("capacity", c.capacity))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Replace rather than update so the old value's size is released
	// through the eviction callback.
	c.lru.Remove(key)

	for c.size+n > c.capacity {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}

	c.lru.Add(key, value)
	c.size += n
	return true
}

// Evict removes the entry for key if present.
func (c *Cache) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// EvictAll removes every entry.
func (c *Cache) EvictAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.size = 0
}

// Size returns the total bytes currently cached.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the configured byte budget.
func (c *Cache) Capacity() int64 {
	return c.capacity
}
