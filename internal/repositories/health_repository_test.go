package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

func okProbe(context.Context) error { return nil }

func TestHealthProbesAllPassing(t *testing.T) {
	at := time.Date(2025, time.May, 6, 9, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Check: okProbe},
		{Name: "redis", Critical: true, Check: okProbe},
		{Name: "pubsub", Check: okProbe},
	}, WithDependencyClock(func() time.Time { return at }))
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK || len(report.Checks) != 3 {
		t.Fatalf("expected 3 ok checks, got %s with %d", report.Status, len(report.Checks))
	}
	if report.GeneratedAt != at || report.Checks["redis"].CheckedAt != at {
		t.Fatalf("expected injected clock to stamp the report, got %+v", report)
	}
	if report.Checks["pubsub"].Detail != "ok" {
		t.Fatalf("expected ok detail, got %q", report.Checks["pubsub"].Detail)
	}
}

func TestHealthProbesNonCriticalFailureDegrades(t *testing.T) {
	publishErr := errors.New("pubsub: topic order-notifications not found")
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Check: okProbe},
		{Name: "pubsub", Check: func(context.Context) error { return publishErr }},
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
	check := report.Checks["pubsub"]
	if check.Status != domain.HealthStatusDegraded || check.Error != publishErr.Error() {
		t.Fatalf("unexpected pubsub check %+v", check)
	}
}

func TestHealthProbesCriticalFailureWinsOverDegraded(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "redis", Critical: true, Check: func(context.Context) error { return errors.New("connection refused") }},
		{Name: "pubsub", Check: func(context.Context) error { return errors.New("permission denied") }},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, _ := repo.Collect(context.Background())
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error, got %s", report.Status)
	}
	if report.Checks["redis"].Status != domain.HealthStatusError || report.Checks["pubsub"].Status != domain.HealthStatusDegraded {
		t.Fatalf("unexpected per-check statuses %+v", report.Checks)
	}
}

func TestHealthProbesTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{
			Name:     "firestore",
			Critical: true,
			Timeout:  5 * time.Millisecond,
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(200 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
		{
			// Ignores its context and returns nil after the deadline.
			Name:    "pubsub",
			Timeout: 5 * time.Millisecond,
			Check: func(context.Context) error {
				time.Sleep(20 * time.Millisecond)
				return nil
			},
		},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, _ := repo.Collect(context.Background())
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error, got %s", report.Status)
	}
	if check := report.Checks["firestore"]; check.Detail != "timeout" || check.Status != domain.HealthStatusError {
		t.Fatalf("unexpected firestore check %+v", check)
	}
	if check := report.Checks["pubsub"]; check.Detail != "timeout" || check.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected overrunning probe to count as a degraded timeout, got %+v", check)
	}
}

func TestNewDependencyHealthRepositoryValidatesChecks(t *testing.T) {
	cases := map[string][]DependencyCheck{
		"empty":     nil,
		"no name":   {{Name: "  ", Check: okProbe}},
		"no func":   {{Name: "redis"}},
		"duplicate": {{Name: "redis", Check: okProbe}, {Name: " redis ", Check: okProbe}},
	}
	for name, checks := range cases {
		if _, err := NewDependencyHealthRepository(checks); err == nil {
			t.Errorf("%s: expected construction error", name)
		}
	}
}
