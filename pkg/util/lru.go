package util

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// CacheConfig controls the eviction behaviour of an LRUCache.
type CacheConfig struct {
	// Capacity is the maximum number of entries. 0 means unbounded by count.
	Capacity int
	// MaxWeight is the maximum total weight. 0 means unbounded by weight.
	MaxWeight int
	// TTL is the lifetime of an entry. 0 means entries never expire.
	TTL time.Duration
}

type cacheEntry[K comparable, V any] struct {
	key        K
	value      V
	weight     int
	expiration time.Time
}

// LRUCache is a generic, thread-safe LRU cache with optional weight and TTL
// limits. The search engine uses it to memoise query embeddings so repeated
// queries do not re-hit the embedding provider.
type LRUCache[K comparable, V any] struct {
	config        CacheConfig
	ll            *list.List
	cache         map[K]*list.Element
	currentWeight int
	lock          sync.RWMutex
}

// NewLRU creates an LRUCache with the given configuration. At least one of
// Capacity or MaxWeight must be set.
func NewLRU[K comparable, V any](config CacheConfig) (*LRUCache[K, V], error) {
	if config.Capacity <= 0 && config.MaxWeight <= 0 {
		return nil, fmt.Errorf("either Capacity or MaxWeight must be set")
	}
	return &LRUCache[K, V]{
		config: config,
		ll:     list.New(),
		cache:  make(map[K]*list.Element),
	}, nil
}

// Get returns the value for key, expiring it lazily if its TTL has passed.
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	element, ok := c.cache[key]
	if !ok {
		var zero V
		return zero, false
	}

	entry := element.Value.(*cacheEntry[K, V])
	if c.config.TTL > 0 && time.Now().After(entry.expiration) {
		c.removeElement(element)
		var zero V
		return zero, false
	}

	c.ll.MoveToFront(element)
	return entry.value, true
}

// Put inserts or updates a key with the given weight. Pass weight 1 when
// only capacity-based eviction is in use.
func (c *LRUCache[K, V]) Put(key K, value V, weight int) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if element, ok := c.cache[key]; ok {
		entry := element.Value.(*cacheEntry[K, V])
		c.currentWeight += weight - entry.weight
		entry.weight = weight
		entry.value = value
		if c.config.TTL > 0 {
			entry.expiration = time.Now().Add(c.config.TTL)
		}
		c.ll.MoveToFront(element)
	} else {
		entry := &cacheEntry[K, V]{key: key, value: value, weight: weight}
		if c.config.TTL > 0 {
			entry.expiration = time.Now().Add(c.config.TTL)
		}
		c.cache[key] = c.ll.PushFront(entry)
		c.currentWeight += weight
	}

	// A single large entry can require evicting several old ones.
	for c.isOverCapacity() {
		c.evict()
	}
}

func (c *LRUCache[K, V]) isOverCapacity() bool {
	if c.config.Capacity > 0 && c.ll.Len() > c.config.Capacity {
		return true
	}
	if c.config.MaxWeight > 0 && c.currentWeight > c.config.MaxWeight {
		return true
	}
	return false
}

func (c *LRUCache[K, V]) evict() {
	if back := c.ll.Back(); back != nil {
		c.removeElement(back)
	}
}

func (c *LRUCache[K, V]) removeElement(e *list.Element) {
	c.ll.Remove(e)
	entry := e.Value.(*cacheEntry[K, V])
	delete(c.cache, entry.key)
	c.currentWeight -= entry.weight
}

// Len returns the current number of entries.
func (c *LRUCache[K, V]) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.ll.Len()
}
