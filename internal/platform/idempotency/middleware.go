package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hanko-field/ordercore/internal/platform/httpx"
	"github.com/hanko-field/ordercore/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
)

// Logger abstracts the logging dependency used inside the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	optional   bool
	clock      func() time.Time
	logger     Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed responses are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithOptionalKey lets requests without the header through unguarded.
func WithOptionalKey() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.optional = true
	}
}

func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware guards mutating requests. Keys are scoped to the caller, the first response is stored and
// replayed for repeats with the same body, and a different body under the same key is a conflict.
// Server errors are not stored so the client can retry with the same key.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{headerName: defaultHeaderName, ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			switch {
			case key == "" && cfg.optional:
				next.ServeHTTP(w, r)
				return
			case key == "":
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing idempotency key header", http.StatusBadRequest))
				return
			case len(key) > maxKeyLength:
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			caller := requester(ctx)
			scoped := key + "|" + caller
			fingerprint := sha256Hex([]byte(r.Method + "|" + r.URL.Path + "|" + caller + "|" + sha256Hex(body)))

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
					return
				}
				cfg.printf("idempotency: reserve failed: %v", err)
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				replay(w, reservation.Record)
				return
			case ReservationStatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			rec := &bufferedWriter{header: make(http.Header), status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				cfg.release(ctx, store, scoped, fingerprint)
			} else if err := store.SaveResponse(ctx, scoped, fingerprint, Response{Status: rec.status, Headers: rec.header, Body: rec.body.Bytes()}, cfg.clock().UTC(), cfg.ttl); err != nil {
				cfg.printf("idempotency: save failed for key %s: %v", key, err)
				cfg.release(ctx, store, scoped, fingerprint)
			}
			rec.flush(w)
		})
	}
}

func (cfg middlewareConfig) release(ctx context.Context, store Store, key, fingerprint string) {
	if err := store.Release(context.WithoutCancel(ctx), key, fingerprint); err != nil {
		cfg.printf("idempotency: release failed: %v", err)
	}
}

func (cfg middlewareConfig) printf(format string, args ...any) {
	if cfg.logger != nil {
		cfg.logger.Printf(format, args...)
	}
}

// requester scopes keys so two callers cannot collide. Anonymous buyers share one scope.
func requester(ctx context.Context) string {
	if actor, ok := requestctx.Actor(ctx); ok && actor.ID != "" {
		return string(actor.Kind) + ":" + actor.ID
	}
	return "anonymous"
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

// bufferedWriter holds the handler's response until it has been stored.
type bufferedWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if !b.wroteHeader {
		b.status = status
		b.wroteHeader = true
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
