package handlers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rd "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hanko-field/ordercore/internal/platform/httpx"
	"github.com/hanko-field/ordercore/internal/platform/requestctx"
)

// RateLimiter decides whether the caller identified by key may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// luaSlidingWindow trims the window, counts what is left and records the request when under the limit.
// KEYS[1] = window key, ARGV = now ms, window start ms, window seconds, member, limit.
const luaSlidingWindow = `
redis.call('ZREMRANGEBYSCORE', KEYS[1], '0', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
  redis.call('EXPIRE', KEYS[1], ARGV[3])
  return count + 1
end
return -1
`

var slidingWindowScript = rd.NewScript(luaSlidingWindow)

// RedisRateLimiter shares one sliding window per key across every instance.
type RedisRateLimiter struct {
	client rd.UniversalClient
	prefix string
	limit  int
	window time.Duration
	clock  func() time.Time
}

// NewRedisRateLimiter returns nil when limit or window is not positive, which disables limiting.
func NewRedisRateLimiter(client rd.UniversalClient, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	if client == nil || limit <= 0 || window <= 0 {
		return nil
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "ordercore"
	}
	return &RedisRateLimiter{client: client, prefix: prefix, limit: limit, window: window, clock: time.Now}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	now := l.clock()
	nowMs := now.UnixMilli()
	windowSec := int64(l.window / time.Second)
	if windowSec < 1 {
		windowSec = 1
	}
	member := fmt.Sprintf("%d-%d", nowMs, now.UnixNano())
	res, err := slidingWindowScript.Run(ctx, l.client, []string{l.prefix + ":ratelimit:" + key},
		nowMs, nowMs-l.window.Milliseconds(), windowSec, member, l.limit).Int()
	if err != nil {
		return true, fmt.Errorf("redis rate limit: %w", err)
	}
	return res >= 0, nil
}

// MemoryRateLimiter keeps a token bucket per key in process. Idle buckets are pruned lazily.
type MemoryRateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	clock func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryRateLimiter allows limit requests per window with a burst of limit.
func NewMemoryRateLimiter(limit int, window time.Duration, clock func() time.Time) *MemoryRateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryRateLimiter{
		limit:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		idle:    2 * window,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		l.pruneLocked(now)
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

func (l *MemoryRateLimiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, key)
		}
	}
}

// RateLimitMiddleware throttles per caller: the actor id when signed in, otherwise the client IP.
// Limiter failures let the request through.
func RateLimitMiddleware(limiter RateLimiter, logger func(context.Context, string, map[string]any)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := rateLimitKey(r)
			allowed, err := limiter.Allow(ctx, key)
			if err != nil && logger != nil {
				logger(ctx, "ratelimit.check_failed", map[string]any{"key": key, "error": err})
			}
			if !allowed {
				w.Header().Set("Retry-After", "60")
				httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if actor, ok := requestctx.Actor(r.Context()); ok && actor.ID != "" {
		return string(actor.Kind) + ":" + actor.ID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host = strings.TrimSpace(host); host == "" {
		host = "unknown"
	}
	return "ip:" + host
}
