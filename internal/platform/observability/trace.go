package observability

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanko-field/ordercore/internal/platform/requestctx"
)

const cloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/hanko-field/ordercore/internal/platform/observability")

// TraceMiddleware continues the trace announced by the Cloud Run front end, starts a server span and
// stores the ids on the request context.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if remote, ok := parseCloudTraceHeader(r.Header.Get(cloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}

			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()

			info := requestctx.TraceInfo{ProjectID: projectID}
			if sc := span.SpanContext(); sc.IsValid() {
				info.TraceID = sc.TraceID().String()
				info.SpanID = sc.SpanID().String()
				info.Sampled = sc.IsSampled()
				w.Header().Set(cloudTraceHeader, formatCloudTraceHeader(sc))
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithTrace(ctx, info)))
		})
	}
}

// parseCloudTraceHeader reads "TRACE_ID/SPAN_ID;o=OPTIONS". The span id is decimal on the wire.
func parseCloudTraceHeader(header string) (trace.SpanContext, bool) {
	traceHex, rest, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")

	spanNum, err := strconv.ParseUint(strings.TrimSpace(spanPart), 10, 64)
	if err != nil || spanNum == 0 {
		return trace.SpanContext{}, false
	}
	var spanID trace.SpanID
	binary.BigEndian.PutUint64(spanID[:], spanNum)

	var flags trace.TraceFlags
	if strings.TrimSpace(options) == "o=1" {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

func formatCloudTraceHeader(sc trace.SpanContext) string {
	option := 0
	if sc.IsSampled() {
		option = 1
	}
	spanID := sc.SpanID()
	return fmt.Sprintf("%s/%d;o=%d", sc.TraceID(), binary.BigEndian.Uint64(spanID[:]), option)
}
