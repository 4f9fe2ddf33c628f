package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
)

const probeTimeout = 1500 * time.Millisecond

// HealthRepository probes the backing services of the checkout API.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// DependencyCheck is one readiness probe. Required marks dependencies without which checkout
// cannot place orders, such as the order store or the staging cache.
type DependencyCheck struct {
	Name     string
	Required bool
	Timeout  time.Duration
	Check    func(context.Context) error
}

type dependencyHealthRepository struct {
	checks []DependencyCheck
	now    func() time.Time
}

// NewDependencyHealthRepository validates the probe set; clock may be nil.
func NewDependencyHealthRepository(checks []DependencyCheck, clock func() time.Time) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: no dependency checks")
	}
	seen := make(map[string]struct{}, len(checks))
	for _, check := range checks {
		name := strings.TrimSpace(check.Name)
		if name == "" {
			return nil, errors.New("health repository: dependency check without name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health repository: dependency %s has no probe", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: dependency %s registered twice", name)
		}
		seen[name] = struct{}{}
	}
	if clock == nil {
		clock = time.Now
	}
	return &dependencyHealthRepository{checks: append([]DependencyCheck(nil), checks...), now: clock}, nil
}

type probeResult struct {
	name  string
	check domain.HealthCheck
}

// Collect probes every dependency concurrently. A failing required dependency fails the report; a
// failing optional one degrades it.
func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	out := make(chan probeResult, len(r.checks))
	for _, check := range r.checks {
		go func(check DependencyCheck) {
			out <- probeResult{name: strings.TrimSpace(check.Name), check: r.probe(ctx, check)}
		}(check)
	}

	report := domain.HealthReport{
		Status: domain.HealthStatusOK,
		Checks: make(map[string]domain.HealthCheck, len(r.checks)),
	}
	for range r.checks {
		res := <-out
		report.Checks[res.name] = res.check
		report.Status = worse(report.Status, res.check.Status)
	}
	report.GeneratedAt = r.now()
	return report, nil
}

func (r *dependencyHealthRepository) probe(ctx context.Context, check DependencyCheck) domain.HealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = probeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := r.now()
	err := check.Check(probeCtx)
	if err == nil {
		err = probeCtx.Err()
	}
	finished := r.now()

	result := domain.HealthCheck{
		Status:    domain.HealthStatusOK,
		Required:  check.Required,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	if err == nil {
		return result
	}

	result.Error = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		result.Detail = "cancelled"
	default:
		result.Detail = "unreachable"
	}
	result.Status = domain.HealthStatusDegraded
	if check.Required {
		result.Status = domain.HealthStatusError
	}
	return result
}

func worse(a, b domain.HealthStatus) domain.HealthStatus {
	rank := func(s domain.HealthStatus) int {
		switch s {
		case domain.HealthStatusError:
			return 2
		case domain.HealthStatusDegraded:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
