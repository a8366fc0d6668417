package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/requestctx"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, header string) (*httptest.ResponseRecorder, domain.Actor, bool) {
	t.Helper()
	var (
		actor  domain.Actor
		called bool
	)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		actor, _ = requestctx.Actor(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, actor, called
}

func TestRequireFirebaseAuthMapsStaffRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID:    "uid-123",
		Claims: map[string]any{"role": []any{"Staff", "user"}, "email": "ops@example.com"},
	}}
	authn := NewAuthenticator(verifier)

	rec, actor, called := serve(t, authn.RequireFirebaseAuth(RoleStaff, RoleAdmin), "Bearer token-abc")
	if !called || rec.Code != http.StatusNoContent {
		t.Fatalf("expected handler to run, got %d", rec.Code)
	}
	if verifier.received != "token-abc" {
		t.Fatalf("expected raw token to be verified, got %q", verifier.received)
	}
	if actor.Kind != domain.ActorStaff || actor.ID != "uid-123" || actor.Email != "ops@example.com" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestRequireFirebaseAuthRejects(t *testing.T) {
	userToken := &firebaseauth.Token{UID: "buyer", Claims: map[string]any{}}

	cases := []struct {
		name     string
		verifier *stubTokenVerifier
		header   string
		roles    []string
		want     int
	}{
		{name: "missing header", verifier: &stubTokenVerifier{token: userToken}, want: http.StatusUnauthorized},
		{name: "wrong scheme", verifier: &stubTokenVerifier{token: userToken}, header: "Basic abc", want: http.StatusUnauthorized},
		{name: "expired", verifier: &stubTokenVerifier{err: ErrTokenExpired}, header: "Bearer x", want: http.StatusUnauthorized},
		{name: "buyer on staff route", verifier: &stubTokenVerifier{token: userToken}, header: "Bearer x", roles: []string{RoleStaff}, want: http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _, called := serve(t, NewAuthenticator(tc.verifier).RequireFirebaseAuth(tc.roles...), tc.header)
			if called || rec.Code != tc.want {
				t.Fatalf("expected %d without calling handler, got %d called=%v", tc.want, rec.Code, called)
			}
		})
	}
}

func TestOptionalFirebaseAuth(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "buyer", Claims: map[string]any{"email": "aiko@example.com"}}}
	authn := NewAuthenticator(verifier)

	rec, actor, called := serve(t, authn.OptionalFirebaseAuth(), "")
	if !called || rec.Code != http.StatusNoContent || actor.ID != "" {
		t.Fatalf("anonymous request must pass without actor, got %d %+v", rec.Code, actor)
	}

	_, actor, _ = serve(t, authn.OptionalFirebaseAuth(), "Bearer ok")
	if actor.Kind != domain.ActorUser || actor.ID != "buyer" {
		t.Fatalf("expected buyer actor, got %+v", actor)
	}

	verifier.err = errors.New("bad signature")
	rec, _, called = serve(t, authn.OptionalFirebaseAuth(), "Bearer forged")
	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("invalid token must be rejected, got %d", rec.Code)
	}
}

func TestRolesFromClaimShapes(t *testing.T) {
	if roles := rolesFromClaim(map[string]any{"admin": true, "staff": false}); len(roles) != 1 || roles[0] != "admin" {
		t.Fatalf("unexpected roles from map: %v", roles)
	}
	if roles := rolesFromClaim(" Staff "); len(roles) != 1 || roles[0] != "staff" {
		t.Fatalf("unexpected roles from string: %v", roles)
	}
	if roles := rolesFromClaim(42); roles != nil {
		t.Fatalf("expected no roles, got %v", roles)
	}
}
