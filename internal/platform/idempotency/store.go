// Package idempotency replays the stored response of a request repeated with the same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long keys are remembered.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle of a stored key.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of Reserve.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and should run the handler.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a stored response should be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another request holds the key.
	ReservationStatePending
)

type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is one stored key with its response once completed.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is what the middleware captured from the handler.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

func newPendingRecord(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func completeRecord(record Record, resp Response, now time.Time, ttl time.Duration) Record {
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = storableHeaders(resp.Headers)
	record.ResponseBody = nil
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)
	return record
}

// documentID hashes the scoped key so arbitrary client input is a safe document id.
func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var hopHeaders = map[string]struct{}{
	"Content-Length":        {},
	"Date":                  {},
	"Connection":            {},
	"Keep-Alive":            {},
	"Transfer-Encoding":     {},
	"Upgrade":               {},
	"X-Cloud-Trace-Context": {},
}

func storableHeaders(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if _, skip := hopHeaders[canonical]; skip {
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
