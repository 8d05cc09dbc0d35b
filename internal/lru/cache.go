// Package lru implements a small thread-safe LRU cache whose entries also
// expire after a fixed TTL.
package lru

import (
	"sync"
	"time"
)

type node[K comparable, V any] struct {
	key     K
	val     V
	expires time.Time
	prev    *node[K, V]
	next    *node[K, V]
}

// Cache is a bounded LRU cache. A zero TTL disables expiry.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[K]*node[K, V]
	head     *node[K, V] // most recently used (sentinel)
	tail     *node[K, V] // least recently used (sentinel)
	now      func() time.Time
}

// New creates a cache holding at most capacity entries.
// Panics if capacity < 1.
func New[K comparable, V any](capacity int, ttl time.Duration) *Cache[K, V] {
	if capacity < 1 {
		panic("lru: capacity must be >= 1")
	}

	head := &node[K, V]{}
	tail := &node[K, V]{}
	head.next = tail
	tail.prev = head

	return &Cache[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*node[K, V], capacity),
		head:     head,
		tail:     tail,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (c *Cache[K, V]) SetClock(now func() time.Time) { c.now = now }

// Get returns the live value for key and marks it recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok || c.expired(n) {
		if ok {
			c.drop(n)
		}
		var zero V
		return zero, false
	}
	c.moveToFront(n)
	return n.val, true
}

// Put inserts or refreshes key, evicting the least recently used entry when
// full.
func (c *Cache[K, V]) Put(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		n.val = val
		n.expires = c.deadline()
		c.moveToFront(n)
		return
	}

	if len(c.items) >= c.capacity {
		c.drop(c.tail.prev)
	}

	n := &node[K, V]{key: key, val: val, expires: c.deadline()}
	c.items[key] = n
	c.pushFront(n)
}

// Add inserts key only when it is absent or expired and reports whether it
// did. It is the check-and-set used for de-duplication.
func (c *Cache[K, V]) Add(key K, val V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		if !c.expired(n) {
			return false
		}
		c.drop(n)
	}
	if len(c.items) >= c.capacity {
		c.drop(c.tail.prev)
	}
	n := &node[K, V]{key: key, val: val, expires: c.deadline()}
	c.items[key] = n
	c.pushFront(n)
	return true
}

// Len returns the number of stored entries, expired ones included until
// they are touched or evicted.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// caller must hold mu for everything below

func (c *Cache[K, V]) deadline() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

func (c *Cache[K, V]) expired(n *node[K, V]) bool {
	return !n.expires.IsZero() && !c.now().Before(n.expires)
}

func (c *Cache[K, V]) drop(n *node[K, V]) {
	c.remove(n)
	delete(c.items, n.key)
}

func (c *Cache[K, V]) remove(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}

func (c *Cache[K, V]) moveToFront(n *node[K, V]) {
	c.remove(n)
	c.pushFront(n)
}
