package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// envSource layers explicit values over the process environment over a dotenv file.
type envSource struct {
	layers []map[string]string
}

func newEnvSource(options loaderOptions) (*envSource, error) {
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	src := &envSource{}
	if options.envMap != nil {
		src.layers = append(src.layers, options.envMap)
	}
	if options.useSystemEnv {
		src.layers = append(src.layers, processEnv())
	}
	if dotenv != nil {
		src.layers = append(src.layers, dotenv)
	}
	return src, nil
}

func (s *envSource) lookup(key string) (string, bool) {
	for _, layer := range s.layers {
		if value, ok := layer[key]; ok {
			return value, true
		}
	}
	return "", false
}

// merged flattens the layers with the same precedence lookup applies.
func (s *envSource) merged() map[string]string {
	out := make(map[string]string)
	for i := len(s.layers) - 1; i >= 0; i-- {
		for key, value := range s.layers[i] {
			out[key] = value
		}
	}
	return out
}

func (s *envSource) str(key, fallback string) string {
	if value, ok := s.lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func (s *envSource) upper(key, fallback string) string {
	return strings.ToUpper(s.str(key, fallback))
}

func (s *envSource) lower(key, fallback string) string {
	return strings.ToLower(s.str(key, fallback))
}

func (s *envSource) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s.str(key, "")); err == nil {
		return d
	}
	return fallback
}

func (s *envSource) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(s.str(key, "")); err == nil {
		return n
	}
	return fallback
}

func (s *envSource) flag(key string, fallback bool) bool {
	switch strings.ToLower(s.str(key, "")) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

// list splits "a, b,,c" into [a b c].
func (s *envSource) list(key string) []string {
	out := []string{}
	for _, part := range strings.Split(s.str(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pairs parses "prod=x,stg=y" with lower-cased keys. Entries missing either side are skipped.
func (s *envSource) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range s.list(key) {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			continue
		}
		out[name] = value
	}
	return out
}

func processEnv() map[string]string {
	values := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if key = strings.TrimSpace(key); !ok || key == "" {
			continue
		}
		values[key] = value
	}
	return values
}

// readDotEnv returns nil without error when path is empty or absent.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if key = strings.TrimSpace(key); !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}

// EnvironmentValues returns the effective environment Load would read from,
// so dependencies such as the secret fetcher can be built before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newEnvSource(applyOptions(opts))
	if err != nil {
		return nil, err
	}
	return src.merged(), nil
}
