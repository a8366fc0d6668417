package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "ordercore"
	redisWatchAttempts = 3
)

// RedisStore shares keys between instances through Redis. Expiry is left to key TTLs.
type RedisStore struct {
	client rd.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore stores records under "<prefix>:idem:<sha256(key)>".
func NewRedisStore(client rd.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":idem:" + documentID(key)
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	record := newPendingRecord(key, fingerprint, now.UTC(), ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency reserve: %w", err)
	}
	k := s.key(key)
	for attempt := 0; attempt < redisWatchAttempts; attempt++ {
		created, err := s.client.SetNX(ctx, k, payload, ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency reserve: %w", err)
		}
		if created {
			return Reservation{State: ReservationStateNew, Record: record}, nil
		}
		existing, found, err := readRecord(ctx, s.client, k)
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency reserve: %w", err)
		}
		if found {
			return classifyExisting(existing, fingerprint)
		}
		// expired between SETNX and GET
	}
	return Reservation{}, errors.New("idempotency reserve: key kept expiring during reservation")
}

func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	k := s.key(key)
	err := s.watch(ctx, k, func(tx *rd.Tx) error {
		record, found, err := readRecord(ctx, tx, k)
		if err != nil {
			return err
		}
		if !found {
			record = Record{Key: key, Fingerprint: fingerprint}
		} else if record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		payload, err := json.Marshal(completeRecord(record, resp, now.UTC(), ttl))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, k, payload, ttl)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("idempotency save: %w", err)
	}
	return nil
}

// Release deletes the key only while it is still pending for fingerprint.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	k := s.key(key)
	err := s.watch(ctx, k, func(tx *rd.Tx) error {
		record, found, err := readRecord(ctx, tx, k)
		if err != nil || !found || !releasable(record, fingerprint) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op; Redis evicts expired keys itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// watch runs fn optimistically on k, retrying when another client changed it first.
func (s *RedisStore) watch(ctx context.Context, k string, fn func(*rd.Tx) error) error {
	var err error
	for attempt := 0; attempt < redisWatchAttempts; attempt++ {
		err = s.client.Watch(ctx, fn, k)
		if !errors.Is(err, rd.TxFailedErr) {
			return err
		}
	}
	return err
}

type stringGetter interface {
	Get(ctx context.Context, key string) *rd.StringCmd
}

func readRecord(ctx context.Context, client stringGetter, k string) (Record, bool, error) {
	raw, err := client.Get(ctx, k).Bytes()
	if errors.Is(err, rd.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("decode record %s: %w", k, err)
	}
	return record, true, nil
}
