package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

// reference is a parsed secret://name[?version=N&project=P] URI.
type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

// cacheKey distinguishes versions of the same secret.
func (r reference) cacheKey() string {
	return r.canonical + "#" + r.version
}

func (r reference) resourceName(projectID string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, r.name, r.version)
}

func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	query := u.Query()
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = latestVersion
	}
	u.RawQuery, u.Fragment = "", ""
	return reference{
		canonical: u.String(),
		name:      name,
		version:   version,
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// maskReference hashes a reference for metric attributes.
func maskReference(ref string) string {
	h := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(h[:8])
}
