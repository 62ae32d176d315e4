package services

import (
	"sync"
	"time"
)

// cacheSlot holds one collection's last remote result for a fixed TTL.
type cacheSlot[T any] struct {
	mu       sync.RWMutex
	items    []T
	storedAt time.Time
	valid    bool
}

func (c *cacheSlot[T]) get(now time.Time, ttl time.Duration) ([]T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid || ttl <= 0 || now.Sub(c.storedAt) >= ttl {
		return nil, false
	}
	return c.items, true
}

func (c *cacheSlot[T]) set(items []T, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = items
	c.storedAt = now
	c.valid = true
}

func (c *cacheSlot[T]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.valid = false
}
