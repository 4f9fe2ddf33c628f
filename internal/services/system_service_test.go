package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
)

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.HealthReport, error) {
	s.calls++
	return s.report, s.err
}

func TestSystemServiceStampsBuildMetadata(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	repo := &stubHealthRepository{report: domain.HealthReport{
		Checks: map[string]domain.HealthCheck{
			"firestore":     {Status: domain.HealthStatusOK, Required: true},
			"secretManager": {Status: domain.HealthStatusDegraded},
		},
	}}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: " 1.2.3 ", CommitSHA: "abc123", Environment: "prod", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Version != "1.2.3" || report.CommitSHA != "abc123" || report.Environment != "prod" {
		t.Fatalf("unexpected build metadata %#v", report)
	}
	if report.Uptime != 5*time.Minute || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected timing uptime=%s generated=%s", report.Uptime, report.GeneratedAt)
	}
	if report.Status != domain.HealthStatusDegraded || !report.Ready() {
		t.Fatalf("optional failure should degrade without blocking readiness, got %s", report.Status)
	}
}

func TestSystemServiceRequiredFailureIsError(t *testing.T) {
	repo := &stubHealthRepository{report: domain.HealthReport{
		Checks: map[string]domain.HealthCheck{"redis": {Status: domain.HealthStatusDegraded, Required: true}},
	}}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}
	report, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Status != domain.HealthStatusError || report.Ready() {
		t.Fatalf("expected not ready, got %s", report.Status)
	}
}

func TestSystemServiceHealthPropagatesErrors(t *testing.T) {
	repo := &stubHealthRepository{err: errors.New("boom")}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}
	if _, err := svc.Health(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if repo.calls != 1 {
		t.Fatalf("expected one collect call, got %d", repo.calls)
	}
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error without repository")
	}
}
