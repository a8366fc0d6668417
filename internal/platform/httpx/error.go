// Package httpx carries the JSON envelope helpers shared by every handler.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/ordercore/internal/platform/requestctx"
)

// Error is the JSON error envelope: {"error", "message", "status", "request_id", "trace_id"} plus details.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: truncate(code, 80), Message: truncate(message, 512), Status: status}
}

// WithDetails merges extra top level fields into the envelope.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// WriteError writes err, filling request and trace ids from the context.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	payload := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = status

	requestID := err.RequestID
	if requestID == "" {
		requestID = middleware.GetReqID(ctx)
	}
	if requestID = truncate(requestID, 80); requestID != "" {
		payload["request_id"] = requestID
	}
	traceID := err.TraceID
	if traceID == "" {
		traceID = requestctx.TraceID(ctx)
	}
	if traceID = truncate(traceID, 64); traceID != "" {
		payload["trace_id"] = traceID
	}
	WriteJSON(w, status, payload)
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
