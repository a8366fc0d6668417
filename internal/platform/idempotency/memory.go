package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps keys in process, for the memory backend and tests.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	if existing, ok := s.keys[id]; ok && !existing.expired(now) {
		return classifyExisting(existing, fingerprint)
	}
	record := newPendingRecord(key, fingerprint, now.UTC(), ttl)
	s.keys[id] = record
	return Reservation{State: ReservationStateNew, Record: record}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	record, ok := s.keys[id]
	switch {
	case !ok:
		record = Record{Key: key, Fingerprint: fingerprint}
	case record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}
	s.keys[id] = completeRecord(record, resp, now.UTC(), ttl)
	return nil
}

// Release drops a pending key held for fingerprint. Completed keys stay so they keep replaying.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	if record, ok := s.keys[id]; ok && releasable(record, fingerprint) {
		delete(s.keys, id)
	}
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.keys {
		if limit > 0 && removed == limit {
			break
		}
		if record.expired(now) {
			delete(s.keys, id)
			removed++
		}
	}
	return removed, nil
}

// classifyExisting maps a live record to the reservation a second caller receives.
func classifyExisting(record Record, fingerprint string) (Reservation, error) {
	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

func releasable(record Record, fingerprint string) bool {
	return record.Status == StatusPending && (fingerprint == "" || record.Fingerprint == fingerprint)
}
