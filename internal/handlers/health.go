package handlers

import (
	"net/http"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/httpx"
	"github.com/hanko-field/ordercore/internal/services"
)

// HealthHandlers serves /healthz and /readyz.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService backs /readyz with dependency probes.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthClock overrides the clock, for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs health handlers. Without a system service /readyz mirrors /healthz.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthResponse struct {
	Status      string                         `json:"status"`
	Version     string                         `json:"version,omitempty"`
	CommitSHA   string                         `json:"commitSha,omitempty"`
	Environment string                         `json:"environment,omitempty"`
	Uptime      string                         `json:"uptime"`
	Timestamp   string                         `json:"timestamp"`
	Checks      map[string]healthCheckResponse `json:"checks,omitempty"`
}

type healthCheckResponse struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Healthz reports liveness only.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock().UTC()
	httpx.WriteJSON(w, http.StatusOK, healthResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Truncate(time.Second).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz probes dependencies and answers 503 when any of them is down.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("health_unavailable", "unable to collect health report", http.StatusServiceUnavailable))
		return
	}

	resp := healthResponse{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		Uptime:      report.Uptime.Truncate(time.Second).String(),
		Timestamp:   report.GeneratedAt.UTC().Format(time.RFC3339),
		Checks:      make(map[string]healthCheckResponse, len(report.Checks)),
	}
	for name, check := range report.Checks {
		resp.Checks[name] = healthCheckResponse{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
		}
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, resp)
}
