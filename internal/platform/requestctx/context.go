// Package requestctx holds the values middlewares attach to a request context.
package requestctx

import (
	"context"

	"go.uber.org/zap"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

type contextKey int

const (
	loggerKey contextKey = iota
	traceKey
	actorKey
	actorSlotKey
)

var noopLogger = zap.NewNop()

// TraceInfo is the Cloud Trace metadata of the current request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger on the context. A nil logger stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the request logger or the shared no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// HasLogger reports whether a real logger was attached.
func HasLogger(ctx context.Context) bool {
	return Logger(ctx) != noopLogger
}

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

// TraceID returns the trace id or an empty string.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

type actorSlot struct {
	actor domain.Actor
	set   bool
}

// TrackActor lets an outer middleware observe the actor that an inner middleware resolves later.
func TrackActor(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorSlotKey, &actorSlot{})
}

// TrackedActor returns the actor recorded below a TrackActor context.
func TrackedActor(ctx context.Context) (domain.Actor, bool) {
	if ctx == nil {
		return domain.Actor{}, false
	}
	slot, ok := ctx.Value(actorSlotKey).(*actorSlot)
	if !ok || !slot.set {
		return domain.Actor{}, false
	}
	return slot.actor, true
}

// WithActor records the authenticated caller.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if slot, ok := ctx.Value(actorSlotKey).(*actorSlot); ok {
		slot.actor, slot.set = actor, true
	}
	return context.WithValue(ctx, actorKey, actor)
}

// Actor returns the caller recorded by the auth middleware.
func Actor(ctx context.Context) (domain.Actor, bool) {
	if ctx == nil {
		return domain.Actor{}, false
	}
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	return actor, ok
}
