// ABOUTME: Thread-safe TTL set for remembering keys that were already handled.
// ABOUTME: Capture sessions use it for ingested file names; agents use it for task ids.

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/svdleer/PyPNMGui-sub000/internal/clock"
)

type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Cache is a size-limited set whose entries expire after a TTL.
// Insertion order is kept in a linked list so eviction is O(1).
// Expired entries are dropped lazily when the cache is written.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List
	ttl     time.Duration
	maxSize int
	clock   clock.Clock
}

// New creates a cache. A zero ttl means entries never expire.
func New(ttl time.Duration, maxSize int) *Cache {
	return NewWithClock(ttl, maxSize, clock.Real())
}

// NewWithClock creates a cache that reads time from c.
func NewWithClock(ttl time.Duration, maxSize int, c clock.Clock) *Cache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		clock:   c,
	}
}

// Check reports whether key was marked and has not expired.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	return ok && c.live(entry, c.clock.Now())
}

// CheckAndMark reports whether key was already present and marks it if not.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if entry, ok := c.seen[key]; ok && c.live(entry, now) {
		return true
	}
	c.markLocked(key, now)
	return false
}

// Mark records key, refreshing its timestamp if already present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, c.clock.Now())
}

// Len returns the number of stored entries, including any not yet pruned.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) live(entry *cacheEntry, now time.Time) bool {
	return c.ttl <= 0 || now.Sub(entry.timestamp) < c.ttl
}

func (c *Cache) markLocked(key string, now time.Time) {
	c.pruneLocked(now)

	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{timestamp: now, element: elem}
}

// pruneLocked drops expired entries from the front of the order list.
func (c *Cache) pruneLocked(now time.Time) {
	if c.ttl <= 0 {
		return
	}
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		entry := c.seen[key]
		if c.live(entry, now) {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}
