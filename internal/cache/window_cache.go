package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// WindowCache memoizes evaluator verdicts keyed by (window id, instant
// rounded to the minute). It is purely an optimization: the estimator may
// probe the same minute thousands of times while simulating a large campaign.
//
// Entries expire after a fixed TTL and the cache holds at most maxEntries
// rows; insertion beyond that evicts the oldest entry first.
type WindowCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List // front = oldest
}

type cacheEntry struct {
	key       string
	allowed   bool
	expiresAt time.Time
}

func NewWindowCache(ttl time.Duration, maxEntries int) *WindowCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &WindowCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

func cacheKey(windowID int64, instant time.Time) string {
	return fmt.Sprintf("%d:%d", windowID, instant.Truncate(time.Minute).Unix())
}

func (c *WindowCache) Get(windowID int64, instant time.Time) (allowed, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, found := c.entries[cacheKey(windowID, instant)]
	if !found {
		return false, false
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeLocked(elem)
		return false, false
	}

	return entry.allowed, true
}

func (c *WindowCache) Set(windowID int64, instant time.Time, allowed bool) {
	key := cacheKey(windowID, instant)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, found := c.entries[key]; found {
		entry := elem.Value.(*cacheEntry)
		entry.allowed = allowed
		entry.expiresAt = time.Now().Add(c.ttl)
		return
	}

	for c.order.Len() >= c.maxEntries {
		c.removeLocked(c.order.Front())
	}

	elem := c.order.PushBack(&cacheEntry{
		key:       key,
		allowed:   allowed,
		expiresAt: time.Now().Add(c.ttl),
	})
	c.entries[key] = elem
}

func (c *WindowCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *WindowCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.entries, entry.key)
}
