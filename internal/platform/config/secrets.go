package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	secretScheme      = "secret://"
	secretShortScheme = "sm://"
)

// SecretResolver resolves secret:// references, typically against Secret Manager.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// SecretError describes a reference that could not be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secret fields that resolved to empty values.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the config field names, sorted.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns hashed field names that are safe to log.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// secretField binds a config field that may hold a secret reference.
type secretField struct {
	name  string
	value *string
}

func (c *Config) secretFields() []secretField {
	return []secretField{
		{"Redis.Password", &c.Redis.Password},
		{"Orders.OperatorEmail", &c.Orders.OperatorEmail},
	}
}

// resolveSecrets replaces references in place and returns the trimmed values by field name.
func resolveSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) (map[string]string, error) {
	resolved := make(map[string]string)
	for _, field := range cfg.secretFields() {
		value := *field.value
		if isSecretReference(value) {
			ref := normalizeSecretReference(value)
			if resolver == nil {
				return nil, &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
			}
			secret, err := resolver.ResolveSecret(ctx, ref)
			if err != nil {
				return nil, &SecretError{Ref: ref, Err: err}
			}
			value = secret
		}
		*field.value = value
		resolved[field.name] = strings.TrimSpace(value)
	}
	return resolved, nil
}

func missingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]bool, len(required))
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	value = strings.TrimSpace(value)
	return strings.HasPrefix(value, secretScheme) || strings.HasPrefix(value, secretShortScheme)
}

func normalizeSecretReference(value string) string {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, secretShortScheme); ok {
		return secretScheme + rest
	}
	return value
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
