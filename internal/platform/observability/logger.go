package observability

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanko-field/ordercore/internal/platform/requestctx"
)

// NewLogger builds the JSON logger used by the API. Unknown levels fall back to info.
func NewLogger(level string) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if trimmed := strings.ToLower(strings.TrimSpace(level)); trimmed != "" {
		if err := atomic.UnmarshalText([]byte(trimmed)); err != nil {
			atomic.SetLevel(zapcore.InfoLevel)
		}
	}

	cfg := zap.Config{
		Level:    atomic,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			TimeKey:       "timestamp",
			LevelKey:      "severity",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
			EncodeLevel:   zapcore.CapitalLevelEncoder,
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// ServiceLogger adapts zap to the event logger the services accept. The request logger is preferred so
// service events carry the request id and trace. Events whose name ends in "failed" or that carry an
// "error" field are logged at warn.
func ServiceLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := base
		if requestctx.HasLogger(ctx) {
			logger = requestctx.Logger(ctx)
		}

		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		zapFields := make([]zap.Field, 0, len(keys)+1)
		zapFields = append(zapFields, zap.String("event", event))
		warn := strings.HasSuffix(event, "failed")
		for _, key := range keys {
			value := fields[key]
			if err, ok := value.(error); ok {
				zapFields = append(zapFields, zap.NamedError(key, err))
				warn = true
				continue
			}
			if key == "error" {
				warn = true
			}
			zapFields = append(zapFields, zap.Any(key, value))
		}

		if warn {
			logger.Warn(event, zapFields...)
			return
		}
		logger.Info(event, zapFields...)
	}
}

// PrintfAdapter adapts zap to printf-style logging interfaces.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
}

func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.Sugar()}
}

func (a PrintfAdapter) Printf(format string, args ...any) {
	a.logger.Infof(format, args...)
}
