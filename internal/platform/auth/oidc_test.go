package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/requestctx"
)

type oidcFixture struct {
	key       *rsa.PrivateKey
	server    *httptest.Server
	fetches   atomic.Int32
	failFetch atomic.Bool
}

func newOIDCFixture(t *testing.T) *oidcFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &oidcFixture{key: key}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "svc-key", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.fetches.Add(1)
		if f.failFetch.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *oidcFixture) sign(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"aud":   "https://ordercore.example.com",
		"iss":   "https://accounts.google.com",
		"sub":   "1234567890",
		"email": "scheduler@demo.iam.gserviceaccount.com",
		"exp":   float64(now.Add(time.Hour).Unix()),
		"iat":   float64(now.Unix()),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func runOIDC(validator *OIDCValidator, token string) (int, domain.Actor) {
	var actor domain.Actor
	handler := validator.RequireOIDC("https://ordercore.example.com", []string{"https://accounts.google.com"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ = requestctx.Actor(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))
	req := httptest.NewRequest(http.MethodPost, "/internal/notifications:dispatch", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code, actor
}

func TestRequireOIDCAcceptsSchedulerToken(t *testing.T) {
	f := newOIDCFixture(t)
	validator := NewOIDCValidator(NewJWKSCache(f.server.URL))

	for i := 0; i < 2; i++ {
		code, actor := runOIDC(validator, f.sign(t, nil))
		if code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", code)
		}
		if actor.Kind != domain.ActorSystem || actor.ID != "scheduler@demo.iam.gserviceaccount.com" {
			t.Fatalf("unexpected actor %+v", actor)
		}
	}
	if f.fetches.Load() != 1 {
		t.Fatalf("expected keys to be cached, fetched %d times", f.fetches.Load())
	}
}

func TestRequireOIDCRejections(t *testing.T) {
	f := newOIDCFixture(t)
	validator := NewOIDCValidator(NewJWKSCache(f.server.URL))

	cases := []struct {
		name   string
		mutate func(jwt.MapClaims)
		want   int
	}{
		{name: "audience mismatch", mutate: func(c jwt.MapClaims) { c["aud"] = "https://other.example.com" }, want: http.StatusUnauthorized},
		{name: "issuer mismatch", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }, want: http.StatusUnauthorized},
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = float64(time.Now().Add(-time.Hour).Unix()) }, want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if code, _ := runOIDC(validator, f.sign(t, tc.mutate)); code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, code)
			}
		})
	}

	if code, _ := runOIDC(validator, ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
}

func TestRequireOIDCJWKSUnavailable(t *testing.T) {
	f := newOIDCFixture(t)
	f.failFetch.Store(true)
	validator := NewOIDCValidator(NewJWKSCache(f.server.URL))

	if code, _ := runOIDC(validator, f.sign(t, nil)); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when keys cannot be fetched, got %d", code)
	}
}

func TestMaxAge(t *testing.T) {
	if got := maxAge("public, max-age=120, must-revalidate"); got != 2*time.Minute {
		t.Fatalf("expected 2m, got %v", got)
	}
	if got := maxAge("no-cache"); got != defaultJWKSValidity {
		t.Fatalf("expected default validity, got %v", got)
	}
}
