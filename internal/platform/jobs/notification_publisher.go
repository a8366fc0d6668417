package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/ordercore/internal/services"
)

// NotificationMessage is the payload consumed by the mail worker subscribed to the notifications topic.
type NotificationMessage struct {
	NotificationID string    `json:"notificationId"`
	Kind           string    `json:"kind"`
	OrderID        string    `json:"orderId"`
	OrderNumber    string    `json:"orderNumber,omitempty"`
	Recipient      string    `json:"recipient"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	Attempt        int       `json:"attempt"`
	QueuedAt       time.Time `json:"queuedAt"`
}

// PubSubNotificationSender hands rendered notifications to a Pub/Sub topic.
type PubSubNotificationSender struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.NotificationSender = (*PubSubNotificationSender)(nil)

// NewPubSubNotificationSender constructs a Pub/Sub backed notification sender.
func NewPubSubNotificationSender(topic *pubsub.Topic) (*PubSubNotificationSender, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification sender: topic is required")
	}
	return &PubSubNotificationSender{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// SendNotification publishes the notification and waits for the server ack.
func (p *PubSubNotificationSender) SendNotification(ctx context.Context, notification services.Notification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notification sender: not initialised")
	}

	data, err := p.marshal(NotificationMessage{
		NotificationID: notification.ID,
		Kind:           string(notification.Kind),
		OrderID:        notification.OrderID,
		OrderNumber:    notification.OrderNumber,
		Recipient:      notification.Recipient,
		Subject:        notification.Subject,
		Body:           notification.Body,
		Attempt:        notification.Attempts,
		QueuedAt:       notification.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "notificationId", notification.ID)
	setAttr(attrs, "kind", string(notification.Kind))
	setAttr(attrs, "orderId", notification.OrderID)
	// The mail worker deduplicates on this, so redelivery after a lease expiry stays harmless.
	setAttr(attrs, "idempotencyKey", notification.ID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification %s: %w", notification.ID, err)
	}
	return nil
}

// LogNotificationSender writes notifications to the service log. It backs local runs without Pub/Sub.
type LogNotificationSender struct {
	logger func(context.Context, string, map[string]any)
}

// NewLogNotificationSender constructs a sender that only logs.
func NewLogNotificationSender(logger func(context.Context, string, map[string]any)) *LogNotificationSender {
	return &LogNotificationSender{logger: logger}
}

// SendNotification logs the rendered notification.
func (s *LogNotificationSender) SendNotification(ctx context.Context, notification services.Notification) error {
	if s == nil || s.logger == nil {
		return nil
	}
	s.logger(ctx, "notification.sent", map[string]any{
		"notificationID": notification.ID,
		"kind":           string(notification.Kind),
		"orderID":        notification.OrderID,
		"recipient":      notification.Recipient,
		"subject":        notification.Subject,
	})
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
