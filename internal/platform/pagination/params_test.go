package pagination

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize || params.PageToken != "" {
		t.Fatalf("unexpected defaults %+v", params)
	}
}

func TestParsePageSizeClamps(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	req := httptest.NewRequest("GET", "/orders?page_size=30&page_token=abc", nil)

	params, err := FromRequest(req, opts)
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	if params.PageSize != 30 || params.PageToken != "abc" {
		t.Fatalf("unexpected params %+v", params)
	}

	params, err = Parse(url.Values{"page_size": {"400"}}, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 40 {
		t.Fatalf("expected clamp to 40, got %d", params.PageSize)
	}
}

func TestParseRejectsInvalidValues(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-5"} {
		if _, err := Parse(url.Values{"page_size": {raw}}, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("page_size=%q: expected ErrInvalidPageSize, got %v", raw, err)
		}
	}
	if _, err := Parse(url.Values{"page_token": {strings.Repeat("x", 600)}}, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken for long token, got %v", err)
	}
}

func TestTokenRoundTripAndRejection(t *testing.T) {
	scope := Scope("user=u_1", "status=pending")
	cursor := Cursor{CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 5, time.UTC), ID: "ord_1", Scope: scope}
	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeToken(token, Scope("status=pending", "user=u_1"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.CreatedAt.Equal(cursor.CreatedAt) || decoded.ID != cursor.ID {
		t.Fatalf("cursor mismatch %+v", decoded)
	}

	if _, err := DecodeToken(token, Scope("user=u_2")); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected token from another filter to be rejected, got %v", err)
	}
	if empty, _ := EncodeToken(Cursor{Scope: scope}); empty != "" {
		t.Fatalf("zero cursor must encode to empty token")
	}
	if _, err := DecodeToken("%%%", ""); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestCursorAdmitsNewestFirst(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cursor := Cursor{CreatedAt: at, ID: "ord_5"}
	cases := []struct {
		name      string
		createdAt time.Time
		id        string
		want      bool
	}{
		{"older", at.Add(-time.Second), "ord_9", true},
		{"newer", at.Add(time.Second), "ord_1", false},
		{"same instant lower id", at, "ord_4", true},
		{"same instant same id", at, "ord_5", false},
		{"same instant higher id", at, "ord_6", false},
	}
	for _, tc := range cases {
		if got := cursor.Admits(tc.createdAt, tc.id); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
	if !(Cursor{}).Admits(at, "anything") {
		t.Error("zero cursor admits everything")
	}
	if Scope() != "" || Scope(" ", "") != "" {
		t.Error("empty filters have no scope")
	}
}
