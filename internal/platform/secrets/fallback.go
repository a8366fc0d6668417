package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const defaultFallbackPath = ".secrets.local"

// fallbackFile is a lazily read file of secret://name[?version=N]=value lines used
// when Secret Manager is unreachable, typically on a developer machine.
type fallbackFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) lookup(ref reference) (string, bool, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", false, f.err
	}
	if value, ok := f.values[ref.cacheKey()]; ok {
		return value, true, nil
	}
	value, ok := f.values[ref.canonical]
	return value, ok, nil
}

func (f *fallbackFile) load() {
	f.values = map[string]string{}
	if f.path == "" {
		return
	}
	path := f.path
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.err = fmt.Errorf("secrets: open fallback file %s: %w", path, err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitFallbackLine(line)
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" {
			continue
		}
		ref, err := parseReference(key)
		if err != nil {
			f.values[key] = value
			continue
		}
		f.values[ref.canonical] = value
		f.values[ref.cacheKey()] = value
	}
	if err := scanner.Err(); err != nil {
		f.err = fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
}

// splitFallbackLine separates reference from value. Query parameters in the
// reference carry their own '=', so the separator is the first '=' that does
// not belong to a parameter. Values may contain '=' (base64 padding).
func splitFallbackLine(line string) (string, string, bool) {
	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		return "", "", false
	}
	q := strings.IndexByte(line, '?')
	if q < 0 || q > eq {
		return line[:eq], line[eq+1:], true
	}
	pos := q + 1
	for {
		param := strings.IndexByte(line[pos:], '=')
		if param < 0 {
			return "", "", false
		}
		after := pos + param + 1
		next := strings.IndexAny(line[after:], "&=")
		if next < 0 {
			return "", "", false
		}
		if line[after+next] == '=' {
			return line[:after+next], line[after+next+1:], true
		}
		pos = after + next + 1
	}
}
