package observability

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hanko-field/ordercore/internal/platform/httpx"
	"github.com/hanko-field/ordercore/internal/platform/requestctx"
)

// InjectLoggerMiddleware stores the base logger on every request context.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware derives a request scoped logger and logs one line per completed request.
// The caller is read after the handler ran because authentication happens on the sub-routers.
func RequestLoggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, _ := requestctx.Trace(ctx)

			fields := []zap.Field{
				zap.String("request_id", middleware.GetReqID(ctx)),
				zap.String("method", clean(r.Method, 10)),
				zap.String("path", clean(r.URL.Path, 180)),
				zap.String("trace_id", info.TraceID),
			}
			if info.ProjectID != "" && info.TraceID != "" {
				fields = append(fields, zap.String("logging.googleapis.com/trace", fmt.Sprintf("projects/%s/traces/%s", info.ProjectID, info.TraceID)))
			}
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				fields = append(fields, zap.String("remote_ip", clean(host, 64)))
			}
			logger := requestctx.Logger(ctx).With(fields...)
			ctx = requestctx.TrackActor(requestctx.WithLogger(ctx, logger))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			panicked := true
			defer func() {
				status := rec.status
				if panicked {
					status = http.StatusInternalServerError
				}
				route := SanitizeRoute(routePattern(r))

				span := trace.SpanFromContext(ctx)
				span.SetAttributes(semconv.HTTPResponseStatusCode(status), semconv.HTTPRoute(route))
				if status >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, http.StatusText(status))
				}

				done := []zap.Field{
					zap.String("route", route),
					zap.Int("status", status),
					zap.Duration("latency", time.Since(start)),
					zap.Int64("bytes", rec.bytes),
				}
				if actor, ok := requestctx.TrackedActor(ctx); ok && actor.ID != "" {
					done = append(done, zap.String("actor_kind", string(actor.Kind)), zap.String("actor_id", clean(actor.ID, 64)))
				}
				switch {
				case status >= http.StatusInternalServerError:
					logger.Error("request completed", done...)
				case status >= http.StatusBadRequest:
					logger.Warn("request completed", done...)
				default:
					logger.Info("request completed", done...)
				}
			}()

			next.ServeHTTP(rec, r.WithContext(ctx))
			panicked = false
		})
	}
}

// RecoveryMiddleware turns panics into a 500 JSON error and logs the stack.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				logger := fallback
				if requestctx.HasLogger(ctx) {
					logger = requestctx.Logger(ctx)
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}
