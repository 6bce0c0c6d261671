// Package minisr implements the bounded, TTL-keyed cache of per-topic
// minimum-in-sync-replica configuration (C4), read by the concurrency
// adjuster's ISR-health pass.
package minisr

import (
	"sync"
	"time"
)

// Entry is one topic's minimum-in-sync-replica value, timestamped by when
// it was observed.
type Entry struct {
	Topic      string
	MinIsr     int
	ObservedAt time.Time
}

// Cache is a bounded map from topic to its last-observed MinISR entry, with
// a periodic sweep that evicts entries older than its retention window —
// the same access-then-sweep shape as a rate-limiter's per-client bucket
// map.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	maxEntries int
}

// NewCache constructs a Cache bounded to maxEntries. maxEntries <= 0 is
// treated as unbounded.
func NewCache(maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]Entry),
		maxEntries: maxEntries,
	}
}

// Put records topic's MinISR value, observed now. If the cache is at
// capacity and topic is new, the oldest entry is evicted first.
func (c *Cache) Put(topic string, minIsr int, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[topic]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[topic] = Entry{Topic: topic, MinIsr: minIsr, ObservedAt: now}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.ObservedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.ObservedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

// Get returns the cached entry for topic, if present.
func (c *Cache) Get(topic string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[topic]
	return e, ok
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Cleanup evicts every entry observed more than maxAge before now. Intended
// to be called periodically by a dedicated timer, the same way
// ClientLimiter.Cleanup is swept outside the request path.
func (c *Cache) Cleanup(maxAge time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for topic, e := range c.entries {
		if now.Sub(e.ObservedAt) > maxAge {
			delete(c.entries, topic)
		}
	}
}

// RunSweeper starts a goroutine evicting entries older than maxAge every
// interval, until stop is closed — the same periodic-timer shape as
// history.Keeper.RunSweeper, so C4's cache gets the cleaner spec §5
// requires instead of relying on callers to sweep it inline.
func (c *Cache) RunSweeper(interval, maxAge time.Duration, nowFn func() time.Time, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.Cleanup(maxAge, nowFn())
			}
		}
	}()
}
