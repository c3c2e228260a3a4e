// Package health runs named subsystem probes for readiness reporting.
package health

import (
	"context"
	"sync"
	"time"
)

// Check probes one subsystem. A nil error means healthy.
type Check func(ctx context.Context) error

// Status is the outcome of a single probe.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Report aggregates the outcome of all probes.
type Report struct {
	Healthy bool     `json:"healthy"`
	Checks  []Status `json:"checks"`
}

// Registry holds named probes and runs them on demand. Probes run with a
// per-check timeout so one hung dependency cannot stall the readiness
// endpoint.
type Registry struct {
	mu      sync.RWMutex
	timeout time.Duration
	checks  []namedCheck
}

type namedCheck struct {
	name  string
	check Check
}

// NewRegistry creates a registry. Each probe gets at most timeout to answer;
// zero means 5 seconds.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Registry{timeout: timeout}
}

// Register adds a named probe. Registration order is reporting order.
func (r *Registry) Register(name string, check Check) {
	r.mu.Lock()
	r.checks = append(r.checks, namedCheck{name: name, check: check})
	r.mu.Unlock()
}

// Run executes all probes and returns the aggregate report.
func (r *Registry) Run(ctx context.Context) Report {
	r.mu.RLock()
	checks := make([]namedCheck, len(r.checks))
	copy(checks, r.checks)
	r.mu.RUnlock()

	report := Report{Healthy: true, Checks: make([]Status, len(checks))}
	for i, nc := range checks {
		report.Checks[i] = r.run(ctx, nc)
		if !report.Checks[i].Healthy {
			report.Healthy = false
		}
	}
	return report
}

func (r *Registry) run(ctx context.Context, nc namedCheck) Status {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := nc.check(ctx)
	status := Status{
		Name:      nc.name,
		Healthy:   err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		status.Detail = err.Error()
	}
	return status
}
