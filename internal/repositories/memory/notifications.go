package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

// NotificationStore is an in-process outbox.
type NotificationStore struct {
	mu      sync.Mutex
	entries map[string]domain.Notification
}

var _ repositories.NotificationRepository = (*NotificationStore)(nil)

// NewNotificationStore constructs an empty outbox.
func NewNotificationStore() *NotificationStore {
	return &NotificationStore{entries: make(map[string]domain.Notification)}
}

// InsertMany adds new outbox entries; ids must be unique.
func (s *NotificationStore) InsertMany(_ context.Context, notifications []domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range notifications {
		if n.ID == "" {
			return fmt.Errorf("memory notifications insert: id is required")
		}
		if _, ok := s.entries[n.ID]; ok {
			return conflict("memory.notifications.insert", "notification %s already exists", n.ID)
		}
	}
	for _, n := range notifications {
		s.entries[n.ID] = n
	}
	return nil
}

// ListDue returns pending entries whose next attempt is due, earliest first.
func (s *NotificationStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	s.mu.Lock()
	due := make([]domain.Notification, 0)
	for _, n := range s.entries {
		if n.Status != domain.NotificationStatusPending || n.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, n)
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Claim leases a pending entry so only one dispatcher sends it.
func (s *NotificationStore) Claim(_ context.Context, notificationID string, now time.Time, lease time.Duration) (domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.entries[notificationID]
	if !ok {
		return domain.Notification{}, notFound("memory.notifications.claim", "notification %s not found", notificationID)
	}
	if n.Status != domain.NotificationStatusPending {
		return domain.Notification{}, conflict("memory.notifications.claim", "notification %s is %s", notificationID, n.Status)
	}
	if n.LeaseUntil != nil && n.LeaseUntil.After(now) {
		return domain.Notification{}, conflict("memory.notifications.claim", "notification %s is leased", notificationID)
	}
	until := now.Add(lease)
	n.LeaseUntil = &until
	n.UpdatedAt = now
	s.entries[notificationID] = n
	return n, nil
}

// Save replaces the stored entry.
func (s *NotificationStore) Save(_ context.Context, notification domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[notification.ID]; !ok {
		return notFound("memory.notifications.save", "notification %s not found", notification.ID)
	}
	s.entries[notification.ID] = notification
	return nil
}

// All returns every entry ordered by creation time.
func (s *NotificationStore) All() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Notification, 0, len(s.entries))
	for _, n := range s.entries {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
