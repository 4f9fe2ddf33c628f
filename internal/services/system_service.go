package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	probes repositories.HealthRepository
	clock  func() time.Time
	build  BuildInfo
}

// NewSystemService assembles the readiness reporter used by /readyz.
func NewSystemService(deps SystemServiceDeps) (HealthService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	build.Version = strings.TrimSpace(build.Version)
	build.CommitSHA = strings.TrimSpace(build.CommitSHA)
	build.Environment = strings.TrimSpace(build.Environment)
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		probes: deps.HealthRepository,
		clock:  func() time.Time { return clock().UTC() },
		build:  build,
	}, nil
}

// Health runs the dependency probes and stamps build metadata onto the report. When the probes
// leave the overall status blank it is recomputed from the checks, honouring Required.
func (s *systemService) Health(ctx context.Context) (HealthReport, error) {
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return HealthReport{}, err
	}

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if report.Version == "" {
		report.Version = s.build.Version
	}
	if report.CommitSHA == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if report.Environment == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.HealthCheck{}
	}
	if report.Status == "" {
		report.Status = summarise(report.Checks)
	}
	return report, nil
}

func summarise(checks map[string]domain.HealthCheck) domain.HealthStatus {
	status := domain.HealthStatusOK
	for _, check := range checks {
		if check.Status == "" || check.Status == domain.HealthStatusOK {
			continue
		}
		if check.Required {
			return domain.HealthStatusError
		}
		status = domain.HealthStatusDegraded
	}
	return status
}
