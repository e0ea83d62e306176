// Package health reports whether tuyametrics and the services it depends on
// are usable. Components are probed concurrently and the result is reused for
// a short time so frequent probes do not hammer the cloud API.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of probing one component.
type CheckResult struct {
	Component   string        `json:"component"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration"`
	Timestamp   time.Time     `json:"timestamp"`
	LastSuccess *time.Time    `json:"last_success,omitempty"`
	Details     any           `json:"details,omitempty"`
}

// HealthStatus aggregates every component result.
type HealthStatus struct {
	Overall Status                 `json:"status"`
	Uptime  string                 `json:"uptime"`
	Checks  map[string]CheckResult `json:"checks"`
}

// ComponentChecker is implemented by anything the service depends on.
type ComponentChecker interface {
	ComponentName() string
	CheckHealth(ctx context.Context) error
}

// DetailReporter is implemented by components that publish state alongside
// their result on the detailed health endpoint.
type DetailReporter interface {
	HealthDetails() any
}

// HealthChecker probes registered components.
type HealthChecker struct {
	mu         sync.Mutex
	components []ComponentChecker
	last       map[string]CheckResult
	lastRun    time.Time

	started       time.Time
	slowThreshold time.Duration
	checkTimeout  time.Duration
	cacheFor      time.Duration
	now           func() time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		last:          make(map[string]CheckResult),
		started:       time.Now(),
		slowThreshold: 3 * time.Second,
		checkTimeout:  8 * time.Second,
		cacheFor:      10 * time.Second,
		now:           time.Now,
	}
}

// RegisterComponent adds a component, replacing one with the same name.
func (hc *HealthChecker) RegisterComponent(c ComponentChecker) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.lastRun = time.Time{}
	for i, existing := range hc.components {
		if existing.ComponentName() == c.ComponentName() {
			hc.components[i] = c
			return
		}
	}
	hc.components = append(hc.components, c)
}

func (hc *HealthChecker) Uptime() time.Duration {
	return hc.now().Sub(hc.started)
}

// LivenessCheck never consults components: a process that answers is alive.
func (hc *HealthChecker) LivenessCheck(ctx context.Context) error {
	return ctx.Err()
}

// ReadinessCheck fails when any component is unhealthy. Degraded components
// still count as ready.
func (hc *HealthChecker) ReadinessCheck(ctx context.Context) error {
	status := hc.GetHealthStatus(ctx)

	var errs []error
	for _, name := range sortedNames(status.Checks) {
		if r := status.Checks[name]; r.Status == StatusUnhealthy {
			errs = append(errs, fmt.Errorf("%s: %s", name, r.Message))
		}
	}
	return errors.Join(errs...)
}

// GetHealthStatus probes all components, or returns the previous results when
// they are younger than the cache window.
func (hc *HealthChecker) GetHealthStatus(ctx context.Context) HealthStatus {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if hc.lastRun.IsZero() || hc.now().Sub(hc.lastRun) >= hc.cacheFor {
		hc.last = hc.probe(ctx)
		hc.lastRun = hc.now()
	}

	checks := make(map[string]CheckResult, len(hc.last))
	overall := StatusHealthy
	for name, r := range hc.last {
		checks[name] = r
		switch {
		case r.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case r.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	return HealthStatus{
		Overall: overall,
		Uptime:  hc.Uptime().Round(time.Second).String(),
		Checks:  checks,
	}
}

// probe runs every component concurrently. Callers hold hc.mu.
func (hc *HealthChecker) probe(ctx context.Context) map[string]CheckResult {
	ctx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
	defer cancel()

	results := make([]CheckResult, len(hc.components))
	var wg sync.WaitGroup
	for i, c := range hc.components {
		wg.Add(1)
		go func(i int, c ComponentChecker) {
			defer wg.Done()
			results[i] = hc.checkOne(ctx, c)
		}(i, c)
	}
	wg.Wait()

	out := make(map[string]CheckResult, len(results))
	for _, r := range results {
		if r.LastSuccess == nil {
			if prev, ok := hc.last[r.Component]; ok {
				r.LastSuccess = prev.LastSuccess
			}
		}
		out[r.Component] = r
	}
	return out
}

func (hc *HealthChecker) checkOne(ctx context.Context, c ComponentChecker) CheckResult {
	start := hc.now()
	err := c.CheckHealth(ctx)
	end := hc.now()

	r := CheckResult{
		Component: c.ComponentName(),
		Status:    StatusHealthy,
		Duration:  end.Sub(start),
		Timestamp: end,
	}
	if d, ok := c.(DetailReporter); ok {
		r.Details = d.HealthDetails()
	}
	switch {
	case err != nil:
		r.Status = StatusUnhealthy
		r.Message = err.Error()
	default:
		r.LastSuccess = &end
		if r.Duration > hc.slowThreshold {
			r.Status = StatusDegraded
			r.Message = fmt.Sprintf("slow response: %s", r.Duration.Round(time.Millisecond))
		}
	}
	return r
}

func sortedNames(m map[string]CheckResult) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
