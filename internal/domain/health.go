package domain

import "time"

// HealthStatus summarises a dependency probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// HealthCheck is the outcome of probing one dependency. Required dependencies are the ones
// checkout cannot run without; a failing optional one only degrades the report.
type HealthCheck struct {
	Status    HealthStatus
	Required  bool
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

type HealthReport struct {
	Status      HealthStatus
	Checks      map[string]HealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// Ready reports whether every required dependency answered.
func (r HealthReport) Ready() bool {
	for _, check := range r.Checks {
		if check.Required && check.Status != HealthStatusOK {
			return false
		}
	}
	return r.Status != HealthStatusError
}
