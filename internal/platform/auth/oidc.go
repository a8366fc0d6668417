package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/requestctx"
)

var (
	// ErrJWKSKeyNotFound is returned when the key id is absent from the published key set.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing the key set.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

// Logger is the printf contract used for verification diagnostics.
type Logger interface {
	Printf(format string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

const defaultJWKSValidity = 15 * time.Minute

// JWKSCache fetches Google's signing keys and keeps them until Cache-Control max-age runs out.
type JWKSCache struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu     sync.Mutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time
}

// JWKSOption customises JWKSCache.
type JWKSOption func(*JWKSCache)

func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	cache := &JWKSCache{url: url, client: &http.Client{Timeout: 10 * time.Second}, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// Key returns the public key for kid. An unknown kid forces one refresh, which covers key rotation.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.keys) == 0 || !c.now().Before(c.expiry) {
		if err := c.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, nil
	}
	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	c.keys = keys
	c.expiry = c.now().Add(maxAge(resp.Header.Get("Cache-Control")))
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultJWKSValidity
}

// OIDCValidator verifies Google-signed ID tokens such as the ones Cloud Scheduler attaches.
type OIDCValidator struct {
	cache    *JWKSCache
	logger   Logger
	outcomes metric.Int64Counter
}

// OIDCOption customises the validator.
type OIDCOption func(*OIDCValidator)

func WithOIDCLogger(logger Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCMeter records verification outcomes on the given meter instead of the global one.
func WithOIDCMeter(meter metric.Meter) OIDCOption {
	return func(v *OIDCValidator) {
		if meter == nil {
			return
		}
		if counter, err := meter.Int64Counter("auth.oidc.verifications"); err == nil {
			v.outcomes = counter
		}
	}
}

func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	validator := &OIDCValidator{cache: cache, logger: discardLogger{}}
	WithOIDCMeter(otel.Meter("github.com/hanko-field/ordercore/internal/platform/auth"))(validator)
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// RequireOIDC admits requests carrying a valid token for audience from one of issuers. The caller is
// recorded as a system actor keyed by the token's email.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	allowed := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowed[issuer] = struct{}{}
		}
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if v == nil || v.cache == nil || audience == "" {
				v.record(ctx, "unconfigured")
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "oidc verification unavailable")
				return
			}
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				v.record(ctx, "token_missing")
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "oidc token missing")
				return
			}

			claims := jwt.MapClaims{}
			_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
				kid, _ := t.Header["kid"].(string)
				if kid == "" {
					return nil, errors.New("auth: token missing kid header")
				}
				return v.cache.Key(ctx, kid)
			})
			if err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					v.logger.Printf("auth: jwks unavailable: %v", err)
					v.record(ctx, "jwks_unavailable")
					respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "oidc verification unavailable")
					return
				}
				v.logger.Printf("auth: oidc token rejected: %v", err)
				v.record(ctx, "token_invalid")
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "oidc token verification failed")
				return
			}

			issuer, _ := claims["iss"].(string)
			if _, ok := allowed[issuer]; len(allowed) > 0 && !ok {
				v.record(ctx, "issuer_mismatch")
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "oidc issuer mismatch")
				return
			}
			if !claims.VerifyAudience(audience, true) {
				v.record(ctx, "audience_mismatch")
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "oidc audience mismatch")
				return
			}

			subject, _ := claims["sub"].(string)
			email, _ := claims["email"].(string)
			id := email
			if id == "" {
				id = subject
			}
			v.record(ctx, "ok")
			ctx = requestctx.WithActor(ctx, domain.Actor{Kind: domain.ActorSystem, ID: id, Email: email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (v *OIDCValidator) record(ctx context.Context, outcome string) {
	if v == nil || v.outcomes == nil {
		return
	}
	v.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
