package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/ordercore/internal/domain"
	pfirestore "github.com/hanko-field/ordercore/internal/platform/firestore"
	"github.com/hanko-field/ordercore/internal/repositories"
)

const (
	notificationsCollection = "notifications"
	maxBatchWrites          = 500
)

type notificationDocument struct {
	Kind          string     `firestore:"kind"`
	OrderID       string     `firestore:"orderId"`
	OrderNumber   string     `firestore:"orderNumber"`
	Recipient     string     `firestore:"recipient"`
	Subject       string     `firestore:"subject"`
	Body          string     `firestore:"body"`
	Status        string     `firestore:"status"`
	Attempts      int        `firestore:"attempts"`
	LastError     string     `firestore:"lastError,omitempty"`
	NextAttemptAt time.Time  `firestore:"nextAttemptAt"`
	LeaseUntil    *time.Time `firestore:"leaseUntil,omitempty"`
	SentAt        *time.Time `firestore:"sentAt,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

// NotificationRepository stores the notification outbox in Firestore.
type NotificationRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository constructs a Firestore-backed outbox.
func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	return &NotificationRepository{provider: provider}, nil
}

// InsertMany creates all entries in one transaction so an order never has a partial outbox.
func (r *NotificationRepository) InsertMany(ctx context.Context, notifications []domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	if len(notifications) > maxBatchWrites {
		return errors.New("notifications insert: too many entries for one transaction")
	}
	coll, err := r.provider.Collection(ctx, notificationsCollection)
	if err != nil {
		return err
	}
	for _, n := range notifications {
		if strings.TrimSpace(n.ID) == "" {
			return errors.New("notifications insert: id is required")
		}
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, n := range notifications {
			if err := tx.Create(coll.Doc(n.ID), newNotificationDocument(n)); err != nil {
				return err
			}
		}
		return nil
	}, pfirestore.WithTxLabel("notifications.insertMany"))
}

// ListDue returns pending entries whose next attempt is due, earliest first.
func (r *NotificationRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	coll, err := r.provider.Collection(ctx, notificationsCollection)
	if err != nil {
		return nil, err
	}
	query := coll.Where("status", "==", string(domain.NotificationStatusPending)).
		Where("nextAttemptAt", "<=", now.UTC()).
		OrderBy("nextAttemptAt", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	return pfirestore.Collect(ctx, "notifications.listDue", query, func(id string, doc notificationDocument) domain.Notification {
		return doc.toDomain(id)
	})
}

// Claim leases a pending entry. A sent, failed or currently leased entry yields a conflict.
func (r *NotificationRepository) Claim(ctx context.Context, notificationID string, now time.Time, lease time.Duration) (domain.Notification, error) {
	coll, err := r.provider.Collection(ctx, notificationsCollection)
	if err != nil {
		return domain.Notification{}, err
	}
	ref := coll.Doc(strings.TrimSpace(notificationID))

	var claimed domain.Notification
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if pfirestore.IsNotFoundStatus(err) {
				return pfirestore.NotFound("notifications.claim", "notification %s not found", notificationID)
			}
			return err
		}
		doc, err := pfirestore.Decode[notificationDocument](snap)
		if err != nil {
			return err
		}
		if doc.Status != string(domain.NotificationStatusPending) {
			return pfirestore.Conflict("notifications.claim", "notification %s is %s", notificationID, doc.Status)
		}
		if doc.LeaseUntil != nil && doc.LeaseUntil.After(now) {
			return pfirestore.Conflict("notifications.claim", "notification %s is leased", notificationID)
		}
		doc.LeaseUntil = timePtr(now.Add(lease))
		doc.UpdatedAt = now.UTC()
		claimed = doc.toDomain(snap.Ref.ID)
		return tx.Set(ref, doc)
	}, pfirestore.WithTxLabel("notifications.claim"))
	if err != nil {
		return domain.Notification{}, err
	}
	return claimed, nil
}

// Save overwrites an existing entry.
func (r *NotificationRepository) Save(ctx context.Context, notification domain.Notification) error {
	coll, err := r.provider.Collection(ctx, notificationsCollection)
	if err != nil {
		return err
	}
	ref := coll.Doc(strings.TrimSpace(notification.ID))
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			if pfirestore.IsNotFoundStatus(err) {
				return pfirestore.NotFound("notifications.save", "notification %s not found", notification.ID)
			}
			return err
		}
		return tx.Set(ref, newNotificationDocument(notification))
	}, pfirestore.WithTxLabel("notifications.save"))
}

func newNotificationDocument(n domain.Notification) notificationDocument {
	return notificationDocument{
		Kind:          string(n.Kind),
		OrderID:       n.OrderID,
		OrderNumber:   n.OrderNumber,
		Recipient:     n.Recipient,
		Subject:       n.Subject,
		Body:          n.Body,
		Status:        string(n.Status),
		Attempts:      n.Attempts,
		LastError:     n.LastError,
		NextAttemptAt: n.NextAttemptAt.UTC(),
		LeaseUntil:    utcPtr(n.LeaseUntil),
		SentAt:        utcPtr(n.SentAt),
		CreatedAt:     n.CreatedAt.UTC(),
		UpdatedAt:     n.UpdatedAt.UTC(),
	}
}

func (d notificationDocument) toDomain(id string) domain.Notification {
	return domain.Notification{
		ID:            id,
		Kind:          domain.NotificationKind(d.Kind),
		OrderID:       d.OrderID,
		OrderNumber:   d.OrderNumber,
		Recipient:     d.Recipient,
		Subject:       d.Subject,
		Body:          d.Body,
		Status:        domain.NotificationStatus(d.Status),
		Attempts:      d.Attempts,
		LastError:     d.LastError,
		NextAttemptAt: d.NextAttemptAt,
		LeaseUntil:    d.LeaseUntil,
		SentAt:        d.SentAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
