package idempotency

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/ordercore/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

// FirestoreStore keeps keys in a Firestore collection. Expired documents are removed by CleanupExpired.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// FirestoreOption customises the store.
type FirestoreOption func(*FirestoreStore)

func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{provider: provider, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

type recordDocument struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func toDocument(r Record) recordDocument {
	return recordDocument{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (d recordDocument) toRecord() Record {
	return Record{
		Key:             d.Key,
		Fingerprint:     d.Fingerprint,
		Status:          Status(d.Status),
		ResponseStatus:  d.ResponseStatus,
		ResponseHeaders: d.ResponseHeaders,
		ResponseBody:    d.ResponseBody,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		ExpiresAt:       d.ExpiresAt,
	}
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	coll, err := s.provider.Collection(ctx, s.collection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(documentID(key)), nil
}

// load returns the stored record, or ok=false when the document does not exist.
func load(tx *firestore.Transaction, ref *firestore.DocumentRef) (Record, bool, error) {
	snap, err := tx.Get(ref)
	if pfirestore.IsNotFoundStatus(err) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	doc, err := pfirestore.Decode[recordDocument](snap)
	if err != nil {
		return Record{}, false, err
	}
	return doc.toRecord(), true, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return Reservation{}, err
	}
	now = now.UTC()

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record, ok, err := load(tx, ref)
		if err != nil {
			return err
		}
		if !ok || record.expired(now) {
			record = newPendingRecord(key, fingerprint, now, ttl)
			result = Reservation{State: ReservationStateNew, Record: record}
			return tx.Set(ref, toDocument(record))
		}
		result, err = classifyExisting(record, fingerprint)
		return err
	}, pfirestore.WithTxLabel("idempotency.reserve"))
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency reserve: %w", err)
	}
	return result, nil
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	now = now.UTC()

	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record, ok, err := load(tx, ref)
		if err != nil {
			return err
		}
		if ok && record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		if !ok {
			record = Record{Key: key, Fingerprint: fingerprint}
		}
		return tx.Set(ref, toDocument(completeRecord(record, resp, now, ttl)))
	}, pfirestore.WithTxLabel("idempotency.saveResponse"))
	if err != nil {
		return fmt.Errorf("idempotency save: %w", err)
	}
	return nil
}

// Release deletes the key only while it is still pending for fingerprint.
func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record, ok, err := load(tx, ref)
		if err != nil || !ok || !releasable(record, fingerprint) {
			return err
		}
		return tx.Delete(ref)
	}, pfirestore.WithTxLabel("idempotency.release"))
}

// CleanupExpired deletes up to limit expired keys with a bulk writer.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 200
	}
	snaps, err := client.Collection(s.collection).Where("expiresAt", "<=", now.UTC()).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.cleanup", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(snaps))
	for _, snap := range snaps {
		job, err := writer.Delete(snap.Ref)
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	removed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err == nil {
			removed++
		}
	}
	return removed, nil
}
