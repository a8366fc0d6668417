package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/requestctx"
)

var fixedTime = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func newOrderRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func TestMiddlewareRequiresKeyUnlessOptional(t *testing.T) {
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	rec := httptest.NewRecorder()
	Middleware(NewMemoryStore())(next).ServeHTTP(rec, newOrderRequest("", `{}`))
	if rec.Code != http.StatusBadRequest || calls != 0 {
		t.Fatalf("expected 400 without calling handler, got %d calls=%d", rec.Code, calls)
	}
	assertErrorResponse(t, rec.Body.Bytes(), "idempotency_key_required")

	rec = httptest.NewRecorder()
	Middleware(NewMemoryStore(), WithOptionalKey())(next).ServeHTTP(rec, newOrderRequest("", `{}`))
	if rec.Code != http.StatusCreated || calls != 1 {
		t.Fatalf("expected optional key to pass through, got %d calls=%d", rec.Code, calls)
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"order_number":"ORD-2025-12345678"}`))
		}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newOrderRequest("abc-123", `{"order_items":[]}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newOrderRequest("abc-123", `{"order_items":[]}`))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if second.Code != http.StatusCreated || second.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replayed 201, got %d headers %v", second.Code, second.Header())
	}
	if second.Header().Get("Content-Type") != "application/json" || second.Body.String() != first.Body.String() {
		t.Fatalf("expected identical replay, got %q", second.Body.String())
	}
}

func TestMiddlewareScopesKeysPerCaller(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for _, uid := range []string{"user-a", "user-b"} {
		req := newOrderRequest("shared-key", `{}`)
		req = req.WithContext(requestctx.WithActor(req.Context(), domain.Actor{Kind: domain.ActorUser, ID: uid}))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected both callers to reach the handler, got %d", calls)
	}
}

func TestMiddlewareConflictingBody(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newOrderRequest("same-key", `{"qty":1}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newOrderRequest("same-key", `{"qty":2}`))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	assertErrorResponse(t, rec.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewarePendingReservation(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run while the key is held")
		}))

	body := `{"qty":1}`
	fingerprint := sha256Hex([]byte(http.MethodPost + "|/api/v1/orders|anonymous|" + sha256Hex([]byte(body))))
	if _, err := store.Reserve(context.Background(), "held-key|anonymous", fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newOrderRequest("held-key", body))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	assertErrorResponse(t, rec.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newOrderRequest("retry-key", `{}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newOrderRequest("retry-key", `{}`))

	if first.Code != http.StatusServiceUnavailable || second.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry after 503, got %d then %d (calls %d)", first.Code, second.Code, calls)
	}
}

func TestMiddlewareSaveFailureReleasesKeyAndKeepsResponse(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newOrderRequest("fail-key", `{}`))

	if rec.Code != http.StatusCreated || rec.Body.String() != "ok" {
		t.Fatalf("expected handler response to reach the client, got %d %q", rec.Code, rec.Body.String())
	}
	if !store.released {
		t.Fatalf("expected key to be released")
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "old", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.Reserve(ctx, "fresh", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(10*time.Minute), 0)
	if err != nil || removed != 1 {
		t.Fatalf("expected one expired key removed, got %d %v", removed, err)
	}
	res, err := store.Reserve(ctx, "fresh", "fp", fixedTime.Add(10*time.Minute), time.Hour)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected fresh key to survive, got %+v %v", res, err)
	}
}

type stubStore struct {
	failSave bool
	released bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
