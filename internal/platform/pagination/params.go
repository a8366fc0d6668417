package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps page_size to prevent unbounded queries.
	DefaultMaxPageSize = 100

	maxPageTokenLength = 512
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Params holds the page request parsed from the query string.
type Params struct {
	PageSize  int
	PageToken string
}

// Options tunes parsing defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FromRequest parses pagination parameters from the request's query string.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil || r.URL == nil {
		return Parse(nil, opts)
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads page_size and page_token. Oversized pages are clamped, not rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = DefaultMaxPageSize
	}

	params := Params{PageSize: opts.DefaultPageSize}
	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if size <= 0 {
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		params.PageSize = min(size, opts.MaxPageSize)
	}

	token := strings.TrimSpace(values.Get("page_token"))
	if len(token) > maxPageTokenLength {
		return Params{}, fmt.Errorf("%w: token too long", ErrInvalidPageToken)
	}
	params.PageToken = token
	return params, nil
}
