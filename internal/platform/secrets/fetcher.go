package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment = "local"
	metricNamespace    = "github.com/hanko-field/ordercore/internal/platform/secrets"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references for config.Load. Lookups go cache,
// Secret Manager, then the local fallback file.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger

	env            string
	defaultProject string
	projects       map[string]string
	fallback       *fallbackFile

	cacheTTL time.Duration
	now      func() time.Time
	mu       sync.RWMutex
	cache    map[string]cachedSecret
	inflight singleflight.Group

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type cachedSecret struct {
	value    string
	storedAt time.Time
}

type fetcherConfig struct {
	logger         *zap.Logger
	env            string
	defaultProject string
	projects       map[string]string
	fallbackPath   string
	cacheTTL       time.Duration
	meter          metric.Meter
	client         secretManagerClient
	clientOpts     []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithEnvironment selects the entry of the project map to use.
func WithEnvironment(env string) Option {
	return func(cfg *fetcherConfig) { cfg.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject is used when the project map has no entry for the environment.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.defaultProject = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment labels (lower-cased) to project ids.
func WithProjectMap(m map[string]string) Option {
	return func(cfg *fetcherConfig) {
		cfg.projects = make(map[string]string, len(m))
		for env, project := range m {
			cfg.projects[strings.ToLower(env)] = project
		}
	}
}

func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithCacheTTL expires cached values so rotated secrets are picked up. Zero caches for the process lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *fetcherConfig) {
		if ttl >= 0 {
			cfg.cacheTTL = ttl
		}
	}
}

func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) { cfg.meter = m }
}

// WithSecretManagerClient injects a client; the fetcher will not close it.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. Without a usable Secret Manager client it only reads the fallback file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{env: defaultEnvironment, fallbackPath: defaultFallbackPath}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	latency, err := cfg.meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"))
	if err != nil {
		return nil, fmt.Errorf("secrets: register latency metric: %w", err)
	}
	cacheHits, err := cfg.meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions served from cache"))
	if err != nil {
		return nil, fmt.Errorf("secrets: register cache metric: %w", err)
	}

	f := &Fetcher{
		client:         cfg.client,
		logger:         cfg.logger,
		env:            cfg.env,
		defaultProject: cfg.defaultProject,
		projects:       cfg.projects,
		fallback:       &fallbackFile{path: cfg.fallbackPath},
		cacheTTL:       cfg.cacheTTL,
		now:            time.Now,
		cache:          make(map[string]cachedSecret),
		latency:        latency,
		cacheHits:      cacheHits,
	}
	if f.client == nil {
		client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secret manager unavailable; using fallback file only", zap.Error(err))
		} else {
			f.client, f.ownsClient = client, true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value for ref. Concurrent misses for the same reference share one lookup.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}

	if value, ok := f.cached(ref); ok {
		f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", maskReference(ref.canonical))))
		f.observe(ctx, start, "cache")
		return value, nil
	}

	v, err, _ := f.inflight.Do(ref.cacheKey(), func() (any, error) {
		value, source, err := f.lookup(ctx, ref)
		if err != nil {
			f.observe(ctx, start, "error")
			return "", err
		}
		f.remember(ref, value)
		f.observe(ctx, start, source)
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *Fetcher) lookup(ctx context.Context, ref reference) (string, string, error) {
	if project := f.projectFor(ref); project != "" && f.client != nil {
		value, err := f.access(ctx, ref.resourceName(project))
		if err == nil {
			return value, "remote", nil
		}
		if !useFallback(err) {
			return "", "", fmt.Errorf("secrets: fetch %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secret manager refused; trying fallback file", zap.String("ref", ref.canonical), zap.Error(err))
	}

	value, ok, err := f.fallback.lookup(ref)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("secrets: no fallback value for %s", ref.canonical)
	}
	return value, "fallback", nil
}

func (f *Fetcher) access(ctx context.Context, name string) (string, error) {
	retry := gax.WithRetry(func() gax.Retryer {
		return gax.OnCodes([]codes.Code{codes.Unavailable, codes.ResourceExhausted}, gax.Backoff{
			Initial:    100 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
		})
	})
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name}, retry)
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) projectFor(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if id := strings.TrimSpace(f.projects[f.env]); id != "" {
		return id
	}
	return f.defaultProject
}

func (f *Fetcher) cached(ref reference) (string, bool) {
	f.mu.RLock()
	entry, ok := f.cache[ref.cacheKey()]
	f.mu.RUnlock()
	if !ok {
		return "", false
	}
	if f.cacheTTL > 0 && f.now().Sub(entry.storedAt) >= f.cacheTTL {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) remember(ref reference, value string) {
	f.mu.Lock()
	f.cache[ref.cacheKey()] = cachedSecret{value: value, storedAt: f.now()}
	f.mu.Unlock()
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	f.latency.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

// useFallback reports Secret Manager failures where the local file may still answer.
// NotFound is authoritative and never falls back.
func useFallback(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
