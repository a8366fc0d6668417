package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hanko-field/ordercore/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("insufficient_stock", "insufficient stock\nfor seal", http.StatusConflict).
		WithDetails(map[string]any{"product_id": "seal"}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "insufficient_stock" || body["message"] != "insufficient stock for seal" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body["product_id"] != "seal" || body["trace_id"] != "trace-1" || body["status"] != float64(409) {
		t.Fatalf("expected details and trace id, got %+v", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	cases := []struct {
		name       string
		body       string
		allowEmpty bool
		wantErr    error
	}{
		{name: "valid", body: `{"name":"seal"}`},
		{name: "empty allowed", body: "", allowEmpty: true},
		{name: "empty rejected", body: "", wantErr: ErrBodyInvalid},
		{name: "unknown field", body: `{"name":"seal","extra":1}`, wantErr: ErrBodyInvalid},
		{name: "trailing data", body: `{"name":"a"}{"name":"b"}`, wantErr: ErrBodyInvalid},
		{name: "too large", body: `{"name":"` + strings.Repeat("x", 64) + `"}`, wantErr: ErrBodyTooLarge},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst payload
			err := DecodeJSON(httptest.NewRecorder(), req, 32, tc.allowEmpty, &dst)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestWriteBodyErrorStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	WriteBodyError(rec, req, ErrBodyTooLarge)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}
