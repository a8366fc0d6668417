package domain

import "time"

// NotificationKind identifies the message template a notification renders with.
type NotificationKind string

const (
	NotificationOrderCreatedBuyer    NotificationKind = "order_created_buyer"
	NotificationOrderCreatedOperator NotificationKind = "order_created_operator"
	NotificationPaymentConfirmed     NotificationKind = "payment_confirmed"
	NotificationOrderStatusChanged   NotificationKind = "order_status_changed"
)

// NotificationStatus tracks delivery progress in the outbox.
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// Notification is a durable outbox entry dispatched in the background.
type Notification struct {
	ID            string
	Kind          NotificationKind
	OrderID       string
	OrderNumber   string
	Recipient     string
	Subject       string
	Body          string
	Status        NotificationStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	LeaseUntil    *time.Time
	SentAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
