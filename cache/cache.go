package cache

import (
	"sync"
)

// Cache is a keyed in-memory map safe for concurrent use. The coordinator
// keeps its per-group state here and the compute manager its pod entries.
type Cache[T interface{}] struct {
	cache map[string]T
	mutex sync.RWMutex
}

func New[T interface{}]() *Cache[T] {
	return &Cache[T]{
		cache: make(map[string]T),
	}
}

func (c *Cache[T]) Remove(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.cache, key)
}

func (c *Cache[T]) Get(key string) T {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	info, ok := c.cache[key]
	if ok {
		return info
	}
	var zero T
	return zero
}

// GetOrStore returns the value under key, storing and returning fallback when
// the key is absent. The check and the store happen under one lock so two
// concurrent callers always observe the same value.
func (c *Cache[T]) GetOrStore(key string, fallback T) T {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if info, ok := c.cache[key]; ok {
		return info
	}
	c.cache[key] = fallback
	return fallback
}

func (c *Cache[T]) GetKeys() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	keys := make([]string, 0, len(c.cache))
	for k := range c.cache {
		keys = append(keys, k)
	}
	return keys
}

func (c *Cache[T]) Store(key string, value T) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[key] = value
}
