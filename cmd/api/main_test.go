package main

import (
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/hanko-field/ordercore/internal/platform/config"
)

func TestRequiredSecretNamesOnlyForReferences(t *testing.T) {
	got := requiredSecretNames(map[string]string{
		"API_REDIS_PASSWORD":        "secret://redis/password",
		"API_ORDERS_OPERATOR_EMAIL": "ops@example.com",
	})
	if !reflect.DeepEqual(got, []string{"Redis.Password"}) {
		t.Fatalf("unexpected required secrets %v", got)
	}
	if got := requiredSecretNames(nil); len(got) != 0 {
		t.Fatalf("expected none, got %v", got)
	}
}

func TestParseKeyValueList(t *testing.T) {
	got := parseKeyValueList(" prod=shop-prod, staging = shop-stg ,broken,=empty")
	keys := make([]string, 0, len(got))
	for k := range got {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if !reflect.DeepEqual(keys, []string{"prod", "staging"}) || got["staging"] != "shop-stg" {
		t.Fatalf("unexpected map %v", got)
	}
}

func TestBuildInfoDefaults(t *testing.T) {
	started := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	info := buildInfoFromEnv(map[string]string{}, config.Config{}, started)
	if info.Version != "dev" || info.CommitSHA != "unknown" || info.Environment != "local" || !info.StartedAt.Equal(started) {
		t.Fatalf("unexpected build info %+v", info)
	}
}

func TestNewRateLimiterFallsBackToMemory(t *testing.T) {
	if newRateLimiter(nil, "x", 0) != nil {
		t.Fatalf("expected no limiter for a zero limit")
	}
	if newRateLimiter(nil, "x", 5) == nil {
		t.Fatalf("expected memory limiter")
	}
}

func TestDemoCatalogHasStock(t *testing.T) {
	for _, p := range demoCatalog(time.Now()) {
		if p.ID == "" || p.Price <= 0 || p.CountInStock <= 0 {
			t.Fatalf("bad demo product %+v", p)
		}
	}
}
