package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/ordercore/internal/platform/requestctx"
)

const (
	defaultRoleClaim     = "role"
	defaultVerifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired signals that the provided Firebase ID token has expired.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid signals that the provided Firebase ID token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Firebase bearer tokens into identities and actors on the request context.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
	timeout   time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithRoleClaim overrides the custom claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, roleClaim: defaultRoleClaim, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid token. When roles are given the identity must
// hold one of them.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			identity, err := a.verify(r.Context(), token)
			if err != nil {
				respondVerificationError(w, err)
				return
			}
			if len(roles) > 0 && !identity.HasAnyRole(roles...) {
				respondAuthError(w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

// OptionalFirebaseAuth lets anonymous requests through. A token that is present must still be valid.
func (a *Authenticator) OptionalFirebaseAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := extractBearerToken(header)
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header invalid")
				return
			}
			identity, err := a.verify(r.Context(), token)
			if err != nil {
				respondVerificationError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) verify(ctx context.Context, raw string) (*Identity, error) {
	if a == nil || a.verifier == nil {
		return nil, errors.New("auth: verifier not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	token, err := a.verifier.VerifyIDToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	return newIdentity(token, a.roleClaim), nil
}

type identityKey struct{}

func withIdentity(ctx context.Context, identity *Identity) context.Context {
	ctx = context.WithValue(ctx, identityKey{}, identity)
	return requestctx.WithActor(ctx, identity.Actor())
}

// IdentityFromContext returns the identity stored by the middlewares.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}
