package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a bounded in-memory cache whose entries expire after a fixed TTL.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Remove(key K)
	Len() int
}

type lruCache[K comparable, V any] struct {
	inner *lru.LRU[K, V]
}

// NewLRU returns an expirable LRU holding at most size entries.
func NewLRU[K comparable, V any](size int, ttl time.Duration) Cache[K, V] {
	if size <= 0 {
		size = 1024
	}
	return &lruCache[K, V]{inner: lru.NewLRU[K, V](size, nil, ttl)}
}

func (c *lruCache[K, V]) Get(key K) (V, bool) { return c.inner.Get(key) }

func (c *lruCache[K, V]) Set(key K, value V) { c.inner.Add(key, value) }

func (c *lruCache[K, V]) Remove(key K) { c.inner.Remove(key) }

func (c *lruCache[K, V]) Len() int { return c.inner.Len() }
