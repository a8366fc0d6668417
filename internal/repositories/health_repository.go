package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck is one readiness probe. A failing Critical probe marks the
// service as errored; any other failure only degrades it.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Critical bool
	Check    func(context.Context) error
}

// DependencyHealthOption customises NewDependencyHealthRepository.
type DependencyHealthOption func(*probeSet)

// WithDependencyTimeout sets the timeout for probes that do not declare one.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(p *probeSet) {
		if timeout > 0 {
			p.fallbackTimeout = timeout
		}
	}
}

// WithDependencyClock replaces time.Now for latency and timestamps.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(p *probeSet) {
		if clock != nil {
			p.now = clock
		}
	}
}

type probeSet struct {
	probes          []DependencyCheck
	fallbackTimeout time.Duration
	now             func() time.Time
}

var _ HealthRepository = (*probeSet)(nil)

// NewDependencyHealthRepository validates checks up front: every probe needs a
// unique name and a function.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	seen := make(map[string]bool, len(checks))
	probes := make([]DependencyCheck, 0, len(checks))
	for _, check := range checks {
		check.Name = strings.TrimSpace(check.Name)
		switch {
		case check.Name == "":
			return nil, errors.New("health repository: dependency check missing name")
		case check.Check == nil:
			return nil, fmt.Errorf("health repository: dependency %s missing check function", check.Name)
		case seen[check.Name]:
			return nil, fmt.Errorf("health repository: duplicate dependency %s", check.Name)
		}
		seen[check.Name] = true
		probes = append(probes, check)
	}

	p := &probeSet{probes: probes, fallbackTimeout: defaultProbeTimeout, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Collect runs all probes concurrently and folds them into the worst status.
func (p *probeSet) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health repository: context is required")
	}

	results := make([]domain.SystemHealthCheck, len(p.probes))
	var wg sync.WaitGroup
	for i, probe := range p.probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.run(ctx, probe)
		}()
	}
	wg.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.SystemHealthCheck, len(results)),
		GeneratedAt: p.now(),
	}
	for i, result := range results {
		report.Checks[p.probes[i].Name] = result
		report.Status = worseStatus(report.Status, result.Status)
	}
	return report, nil
}

func (p *probeSet) run(parent context.Context, probe DependencyCheck) domain.SystemHealthCheck {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = p.fallbackTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	started := p.now()
	err := probe.Check(ctx)
	if err == nil {
		// A probe that ignores its context and overruns still counts as a timeout.
		err = ctx.Err()
	}
	finished := p.now()

	result := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
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
		result.Detail = err.Error()
	}
	result.Status = domain.HealthStatusDegraded
	if probe.Critical {
		result.Status = domain.HealthStatusError
	}
	return result
}

func worseStatus(a, b string) string {
	rank := func(s string) int {
		switch s {
		case domain.HealthStatusError:
			return 2
		case domain.HealthStatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
