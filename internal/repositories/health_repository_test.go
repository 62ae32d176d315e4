package repositories

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ddreams3d/storefront/internal/domain"
)

func TestDependencyHealthRepositoryCollectSuccess(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "cart_store", Critical: true, Check: func(context.Context) error { return nil }},
		{Name: "catalog", Check: func(context.Context) error { return nil }},
	}, WithDependencyClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	if report.Checks["cart_store"].CheckedAt != now {
		t.Fatalf("expected injected clock, got %s", report.Checks["cart_store"].CheckedAt)
	}
}

func TestDependencyHealthRepositoryDegradedAndError(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "catalog", Check: func(context.Context) error {
			return fmt.Errorf("%w: products breaker open", ErrDegraded)
		}},
		{Name: "cart_store", Critical: true, Timeout: 10 * time.Millisecond, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	if got := report.Checks["catalog"].Status; got != domain.HealthStatusDegraded {
		t.Fatalf("expected catalog degraded, got %s", got)
	}
	if got := report.Checks["cart_store"].Detail; got != "timeout" {
		t.Fatalf("expected timeout detail, got %s", got)
	}
}

func TestDependencyHealthRepositoryNonCriticalFailureDegrades(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return errors.New("unavailable") }},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
}

func TestNewDependencyHealthRepositoryValidatesChecks(t *testing.T) {
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "nameless"}}); err == nil {
		t.Fatalf("expected error for missing check function")
	}
}
