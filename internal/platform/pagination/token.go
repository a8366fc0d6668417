package pagination

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"
)

// Cursor marks the last item of a page in newest-first (createdAt, id) order.
// Scope ties the cursor to the filter that produced it.
type Cursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
	Scope     string    `json:"s,omitempty"`
}

func (c Cursor) IsZero() bool {
	return c.ID == "" && c.CreatedAt.IsZero()
}

// Admits reports whether an item at (createdAt, id) belongs on a page after c.
func (c Cursor) Admits(createdAt time.Time, id string) bool {
	if c.IsZero() {
		return true
	}
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}

// Scope fingerprints filter values. Order of values does not matter.
func Scope(values ...string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	sort.Strings(parts)
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}

func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses token and rejects it when it was issued for a different scope.
func DecodeToken(token, scope string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	switch {
	case cursor.ID == "":
		return Cursor{}, fmt.Errorf("%w: missing id", ErrInvalidPageToken)
	case cursor.Scope != scope:
		return Cursor{}, fmt.Errorf("%w: issued for a different filter", ErrInvalidPageToken)
	}
	return cursor, nil
}
