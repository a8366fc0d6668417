package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

func TestPubSubNotificationSenderPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	sender, err := NewPubSubNotificationSender(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotificationSender: %v", err)
	}

	created := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	notification := domain.Notification{
		ID:          "ntf_01",
		Kind:        domain.NotificationPaymentConfirmed,
		OrderID:     "ord_01",
		OrderNumber: "ORD-2025-00001234",
		Recipient:   "aiko@example.com",
		Subject:     "Payment received",
		Body:        "We received your payment.",
		Attempts:    1,
		CreatedAt:   created,
	}
	if err := sender.SendNotification(ctx, notification); err != nil {
		t.Fatalf("SendNotification: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload NotificationMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.NotificationID != "ntf_01" || payload.OrderNumber != "ORD-2025-00001234" || !payload.QueuedAt.Equal(created) {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["kind"]; attr != "payment_confirmed" {
		t.Fatalf("expected kind attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["idempotencyKey"]; attr != "ntf_01" {
		t.Fatalf("expected idempotency key attribute, got %q", attr)
	}
}

func TestNewPubSubNotificationSenderRequiresTopic(t *testing.T) {
	if _, err := NewPubSubNotificationSender(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}

func TestLogNotificationSender(t *testing.T) {
	var events []string
	sender := NewLogNotificationSender(func(_ context.Context, event string, fields map[string]any) {
		events = append(events, event)
		if fields["recipient"] != "ops@example.com" {
			t.Fatalf("unexpected fields %v", fields)
		}
	})
	if err := sender.SendNotification(context.Background(), domain.Notification{ID: "ntf_2", Recipient: "ops@example.com"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(events) != 1 || events[0] != "notification.sent" {
		t.Fatalf("unexpected events %v", events)
	}
}
