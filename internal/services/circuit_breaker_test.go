package services

import (
	"testing"
	"time"

	"github.com/ddreams3d/storefront/internal/domain"
)

func TestCircuitBreakerCoolDown(t *testing.T) {
	clock := newFakeClock(testEpoch)
	breaker := NewCircuitBreaker(time.Minute, clock.Now)

	if !breaker.Allow(domain.CollectionProducts) {
		t.Fatalf("expected a new breaker to be closed")
	}
	if !breaker.Trip(domain.CollectionProducts) {
		t.Fatalf("expected the first trip to report a transition")
	}
	if breaker.Trip(domain.CollectionProducts) {
		t.Fatalf("expected tripping an open breaker to report no transition")
	}
	if breaker.Allow(domain.CollectionProducts) {
		t.Fatalf("expected open breaker to refuse calls")
	}
	if !breaker.Allow(domain.CollectionServices) {
		t.Fatalf("expected collections to be tracked independently")
	}

	status := breaker.Status(domain.CollectionProducts)
	if status.State != BreakerOpen || status.OpenUntil == nil || !status.OpenUntil.Equal(testEpoch.Add(time.Minute)) {
		t.Fatalf("unexpected status %+v", status)
	}

	clock.Advance(time.Minute)
	if breaker.Status(domain.CollectionProducts).State != BreakerClosed {
		t.Fatalf("expected breaker reported closed once the cool-down elapsed")
	}
	if !breaker.Allow(domain.CollectionProducts) {
		t.Fatalf("expected breaker to close once the cool-down elapsed")
	}
	if !breaker.Trip(domain.CollectionProducts) {
		t.Fatalf("expected a trip after recovery to report a transition")
	}

	breaker.Reset(domain.CollectionProducts)
	if !breaker.Allow(domain.CollectionProducts) {
		t.Fatalf("expected reset breaker to allow calls")
	}
}
