package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/ordercore/internal/services"
)

type stubDispatcher struct {
	limit  int
	result services.DispatchResult
	err    error
}

func (s *stubDispatcher) DispatchDue(_ context.Context, limit int) (services.DispatchResult, error) {
	s.limit = limit
	return s.result, s.err
}

func (s *stubDispatcher) Run(context.Context, time.Duration, int) {}

func dispatchRouter(h *NotificationHandlers) chi.Router {
	return NewRouter(WithInternalRoutes(h.Routes))
}

func TestNotificationDispatch(t *testing.T) {
	stub := &stubDispatcher{result: services.DispatchResult{Due: 3, Sent: 2, Retried: 1}}
	router := dispatchRouter(NewNotificationHandlers(stub, 25))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/notifications:dispatch", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body dispatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Sent != 2 || body.Retried != 1 || stub.limit != 25 {
		t.Fatalf("unexpected result %+v limit %d", body, stub.limit)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/notifications:dispatch?limit=9000", nil))
	if rr.Code != http.StatusOK || stub.limit != maxDispatchBatch {
		t.Fatalf("expected limit to clamp, got %d limit %d", rr.Code, stub.limit)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/notifications:dispatch?limit=-1", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestNotificationDispatchFailure(t *testing.T) {
	router := dispatchRouter(NewNotificationHandlers(&stubDispatcher{err: errors.New("outbox unavailable")}, 0))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/notifications:dispatch", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
