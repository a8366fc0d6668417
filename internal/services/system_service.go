package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemService reports process and dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// CacheTTL reuses the last dependency report for this long. Zero probes on every call.
	CacheTTL time.Duration
}

type systemService struct {
	probes   repositories.HealthRepository
	clock    func() time.Time
	build    BuildInfo
	cacheTTL time.Duration

	inflight singleflight.Group
	mu       sync.Mutex
	last     *domain.SystemHealthReport
	lastAt   time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind /readyz.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock().UTC()
	}
	return &systemService{
		probes:   deps.HealthRepository,
		clock:    func() time.Time { return clock().UTC() },
		build:    build,
		cacheTTL: deps.CacheTTL,
	}, nil
}

// HealthReport stamps build metadata and uptime onto the latest dependency report.
// Concurrent callers share one probe round.
func (s *systemService) HealthReport(ctx context.Context) (domain.SystemHealthReport, error) {
	deps, err := s.dependencies(ctx)
	if err != nil {
		return domain.SystemHealthReport{}, err
	}

	now := s.clock()
	report := deps
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.Version = firstNonEmpty(report.Version, s.build.Version)
	report.CommitSHA = firstNonEmpty(report.CommitSHA, s.build.CommitSHA)
	report.Environment = firstNonEmpty(report.Environment, s.build.Environment)
	report.Uptime = now.Sub(s.build.StartedAt)
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = foldCheckStatus(report.Checks)
	}
	return report, nil
}

func (s *systemService) dependencies(ctx context.Context) (domain.SystemHealthReport, error) {
	if cached, ok := s.cached(); ok {
		return cached, nil
	}
	v, err, _ := s.inflight.Do("collect", func() (any, error) {
		report, err := s.probes.Collect(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.last, s.lastAt = &report, s.clock()
		s.mu.Unlock()
		return report, nil
	})
	if err != nil {
		return domain.SystemHealthReport{}, err
	}
	return v.(domain.SystemHealthReport), nil
}

func (s *systemService) cached() (domain.SystemHealthReport, bool) {
	if s.cacheTTL <= 0 {
		return domain.SystemHealthReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || s.clock().Sub(s.lastAt) >= s.cacheTTL {
		return domain.SystemHealthReport{}, false
	}
	return *s.last, true
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// foldCheckStatus covers repositories that report checks without an overall status.
func foldCheckStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
