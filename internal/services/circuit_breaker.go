package services

import (
	"sync"
	"time"

	"github.com/ddreams3d/storefront/internal/domain"
)

// BreakerState is the state of a collection's circuit breaker.
type BreakerState string

const (
	// BreakerClosed lets reads reach the remote store.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen sends reads straight to fallback data until the cool-down elapses.
	BreakerOpen BreakerState = "open"
)

// BreakerStatus reports a breaker's state and, when open, when it closes again.
type BreakerStatus struct {
	State     BreakerState `json:"state"`
	OpenUntil *time.Time   `json:"openUntil,omitempty"`
}

// CircuitBreaker tracks one two-state breaker per collection. An open breaker closes on its own
// once the cool-down has elapsed; there is no half-open probing.
type CircuitBreaker struct {
	mu        sync.Mutex
	coolDown  time.Duration
	now       func() time.Time
	openUntil map[domain.Collection]time.Time
}

// NewCircuitBreaker builds a breaker set with the given cool-down and clock.
func NewCircuitBreaker(coolDown time.Duration, clock func() time.Time) *CircuitBreaker {
	if clock == nil {
		clock = time.Now
	}
	return &CircuitBreaker{
		coolDown:  coolDown,
		now:       clock,
		openUntil: make(map[domain.Collection]time.Time),
	}
}

// Allow reports whether the remote store may be called for collection. An expired open breaker
// is closed as a side effect.
func (b *CircuitBreaker) Allow(collection domain.Collection) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, open := b.openUntil[collection]
	if !open {
		return true
	}
	if b.now().Before(until) {
		return false
	}
	delete(b.openUntil, collection)
	return true
}

// Trip opens the breaker for collection for one cool-down window. It reports whether the breaker
// transitioned from closed.
func (b *CircuitBreaker) Trip(collection domain.Collection) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	until, open := b.openUntil[collection]
	b.openUntil[collection] = now.Add(b.coolDown)
	return !open || !now.Before(until)
}

// Reset closes the breaker for collection.
func (b *CircuitBreaker) Reset(collection domain.Collection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.openUntil, collection)
}

// Status returns the current status of collection without changing it.
func (b *CircuitBreaker) Status(collection domain.Collection) BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, open := b.openUntil[collection]
	if !open || !b.now().Before(until) {
		return BreakerStatus{State: BreakerClosed}
	}
	return BreakerStatus{State: BreakerOpen, OpenUntil: &until}
}
