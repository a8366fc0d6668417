package main

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/ordercore/internal/platform/secrets"
)

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if ttl, err := time.ParseDuration(lookup("API_SECRET_CACHE_TTL")); err == nil {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames marks secret-backed fields as mandatory once they point at a secret reference, so a
// reference that resolves to nothing fails startup.
func requiredSecretNames(env map[string]string) []string {
	fields := map[string]string{
		"API_REDIS_PASSWORD":        "Redis.Password",
		"API_ORDERS_OPERATOR_EMAIL": "Orders.OperatorEmail",
	}
	var required []string
	for key, name := range fields {
		value := strings.TrimSpace(env[key])
		if strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://") {
			required = append(required, name)
		}
	}
	return required
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
