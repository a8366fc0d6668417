package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnvSourcePrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("A=dotenv\nB=dotenv\nC=dotenv\n"), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}
	t.Setenv("A", "process")
	t.Setenv("B", "process")

	src, err := newEnvSource(loaderOptions{envFile: path, envMap: map[string]string{"A": "explicit"}, useSystemEnv: true})
	if err != nil {
		t.Fatalf("newEnvSource: %v", err)
	}
	for key, want := range map[string]string{"A": "explicit", "B": "process", "C": "dotenv"} {
		if got := src.str(key, ""); got != want {
			t.Errorf("%s: expected %q, got %q", key, want, got)
		}
	}
	if merged := src.merged(); merged["A"] != "explicit" || merged["C"] != "dotenv" {
		t.Errorf("merged view disagrees with lookup: %v", merged)
	}
}

func TestEnvSourceTypedValues(t *testing.T) {
	src := &envSource{layers: []map[string]string{{
		"DUR":   "90s",
		"BAD":   "soon",
		"INT":   "42",
		"FLAG":  "Yes",
		"LIST":  " a, ,b ,c",
		"PAIRS": "Prod=https://a, stg=,=x, dev = https://d",
	}}}

	if got := src.duration("DUR", time.Second); got != 90*time.Second {
		t.Errorf("duration: got %s", got)
	}
	if got := src.duration("BAD", time.Second); got != time.Second {
		t.Errorf("expected fallback for unparsable duration, got %s", got)
	}
	if got := src.integer("INT", 0); got != 42 {
		t.Errorf("integer: got %d", got)
	}
	if !src.flag("FLAG", false) || src.flag("MISSING", false) {
		t.Errorf("flag parsing mismatch")
	}
	if got := src.list("LIST"); len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("list: got %v", got)
	}
	pairs := src.pairs("PAIRS")
	if len(pairs) != 2 || pairs["prod"] != "https://a" || pairs["dev"] != "https://d" {
		t.Errorf("pairs: got %v", pairs)
	}
}
