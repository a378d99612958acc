// Package cache holds the edge cache stores behind ports.ResponseCache.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tianshipapa/doubandai/application/ports"
	pkgerrors "github.com/tianshipapa/doubandai/pkg/errors"

	"go.uber.org/zap"
)

const cleanupInterval = 5 * time.Minute

// MemoryCache is an in-process edge cache with LRU eviction and per-entry TTL.
// Entries are kept encoded so callers never share slices with the store.
type MemoryCache struct {
	mu          sync.Mutex
	items       map[string]*cacheItem
	lruList     *list.List
	maxItems    int
	maxMemory   int64
	currentSize int64

	hits      int64
	misses    int64
	evictions int64

	now    func() time.Time
	logger *zap.Logger
}

type cacheItem struct {
	key        string
	value      []byte
	size       int64
	expiry     time.Time
	lruElement *list.Element
}

// CacheStats is a snapshot of MemoryCache counters
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Items     int
	Size      int64
	HitRate   float64
}

// NewMemoryCache creates a cache bounded by item count and encoded bytes
func NewMemoryCache(maxItems int, maxMemory int64, logger *zap.Logger) *MemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryCache{
		items:     make(map[string]*cacheItem),
		lruList:   list.New(),
		maxItems:  maxItems,
		maxMemory: maxMemory,
		now:       time.Now,
		logger:    logger,
	}
}

// Get implements ports.ResponseCache
func (c *MemoryCache) Get(ctx context.Context, key string) (*ports.CachedResponse, bool, error) {
	c.mu.Lock()
	item, exists := c.items[key]
	if !exists {
		c.misses++
		c.mu.Unlock()
		return nil, false, nil
	}
	if c.now().After(item.expiry) {
		c.removeItem(item)
		c.misses++
		c.mu.Unlock()
		return nil, false, nil
	}
	c.lruList.MoveToFront(item.lruElement)
	c.hits++
	value := item.value
	c.mu.Unlock()

	var resp ports.CachedResponse
	if err := json.Unmarshal(value, &resp); err != nil {
		return nil, false, pkgerrors.NewCacheError("decode", err)
	}
	return &resp, true, nil
}

// Put implements ports.ResponseCache. Entries larger than the whole cache are
// dropped without error.
func (c *MemoryCache) Put(ctx context.Context, key string, resp *ports.CachedResponse, ttl time.Duration) error {
	value, err := json.Marshal(resp)
	if err != nil {
		return pkgerrors.NewCacheError("encode", err)
	}
	itemSize := int64(len(key) + len(value))

	c.mu.Lock()
	defer c.mu.Unlock()

	if itemSize > c.maxMemory {
		c.logger.Warn("Response too large for memory cache",
			zap.String("key", key),
			zap.Int64("size", itemSize),
			zap.Int64("max_memory", c.maxMemory),
		)
		return nil
	}

	if existing, ok := c.items[key]; ok {
		c.removeItem(existing)
	}

	for (c.currentSize+itemSize > c.maxMemory || len(c.items) >= c.maxItems) && c.lruList.Len() > 0 {
		oldest := c.lruList.Back()
		c.removeItem(oldest.Value.(*cacheItem))
		c.evictions++
	}

	item := &cacheItem{
		key:    key,
		value:  value,
		size:   itemSize,
		expiry: c.now().Add(ttl),
	}
	item.lruElement = c.lruList.PushFront(item)
	c.items[key] = item
	c.currentSize += itemSize
	return nil
}

// Delete drops key from the cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item, ok := c.items[key]; ok {
		c.removeItem(item)
	}
	return nil
}

// must be called with lock held
func (c *MemoryCache) removeItem(item *cacheItem) {
	if item.lruElement != nil {
		c.lruList.Remove(item.lruElement)
	}
	delete(c.items, item.key)
	c.currentSize -= item.size
}

// GetStats returns cache statistics
func (c *MemoryCache) GetStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	hitRate := float64(0)
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Items:     len(c.items),
		Size:      c.currentSize,
		HitRate:   hitRate,
	}
}

// StartCleanup sweeps expired entries every interval until ctx is done
func (c *MemoryCache) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.cleanupExpired()
			}
		}
	}()
}

func (c *MemoryCache) cleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, item := range c.items {
		if now.After(item.expiry) {
			c.removeItem(item)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("Cleaned up expired cache entries", zap.Int("count", removed))
	}
	return removed
}
