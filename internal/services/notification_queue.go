package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

const defaultNotificationCurrency = "JPY"

// NotificationQueueDeps bundles the collaborators required to construct a notification queue.
type NotificationQueueDeps struct {
	Notifications repositories.NotificationRepository
	OperatorEmail string
	Currency      string
	Locale        string
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type notificationQueue struct {
	repo          repositories.NotificationRepository
	operatorEmail string
	currency      string
	printer       *message.Printer
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewNotificationQueue constructs a queue that renders notifications and stores them in the outbox.
func NewNotificationQueue(deps NotificationQueueDeps) (NotificationQueue, error) {
	if deps.Notifications == nil {
		return nil, errors.New("notification queue: notification repository is required")
	}

	tag := language.English
	if raw := strings.TrimSpace(deps.Locale); raw != "" {
		parsed, err := language.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("notification queue: invalid locale %q: %w", raw, err)
		}
		tag = parsed
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultNotificationCurrency
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationQueue{
		repo:          deps.Notifications,
		operatorEmail: strings.TrimSpace(deps.OperatorEmail),
		currency:      currency,
		printer:       message.NewPrinter(tag),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (q *notificationQueue) OrderCreated(ctx context.Context, order domain.Order) error {
	var entries []domain.Notification
	if recipient := buyerRecipient(order); recipient != "" {
		entries = append(entries, q.build(order, domain.NotificationOrderCreatedBuyer, recipient,
			fmt.Sprintf("Order %s received", order.OrderNumber),
			q.orderSummary(order, "Thank you for your order.")))
	} else {
		q.logger(ctx, "notification.recipient.missing", map[string]any{
			"orderId": order.ID,
			"kind":    string(domain.NotificationOrderCreatedBuyer),
		})
	}
	if q.operatorEmail != "" {
		entries = append(entries, q.build(order, domain.NotificationOrderCreatedOperator, q.operatorEmail,
			fmt.Sprintf("New order %s", order.OrderNumber),
			q.orderSummary(order, fmt.Sprintf("A new order was placed by %s.", order.Shipping.FullName))))
	}
	return q.insert(ctx, entries)
}

func (q *notificationQueue) PaymentConfirmed(ctx context.Context, order domain.Order) error {
	recipient := buyerRecipient(order)
	if recipient == "" {
		return nil
	}
	body := q.printer.Sprintf("We received your payment of %d %s for order %s.",
		order.Amounts.TotalPrice, q.currency, order.OrderNumber)
	return q.insert(ctx, []domain.Notification{
		q.build(order, domain.NotificationPaymentConfirmed, recipient,
			fmt.Sprintf("Payment confirmed for order %s", order.OrderNumber), body),
	})
}

func (q *notificationQueue) StatusChanged(ctx context.Context, order domain.Order) error {
	recipient := buyerRecipient(order)
	if recipient == "" {
		return nil
	}
	var body strings.Builder
	fmt.Fprintf(&body, "Your order %s is now %s.", order.OrderNumber, strings.ReplaceAll(string(order.Status), "_", " "))
	if order.TrackingNumber != "" {
		fmt.Fprintf(&body, "\nTracking number: %s", order.TrackingNumber)
	}
	if order.EstimatedDeliveryDate != nil {
		fmt.Fprintf(&body, "\nEstimated delivery: %s", order.EstimatedDeliveryDate.Format("2006-01-02"))
	}
	return q.insert(ctx, []domain.Notification{
		q.build(order, domain.NotificationOrderStatusChanged, recipient,
			fmt.Sprintf("Order %s update", order.OrderNumber), body.String()),
	})
}

func (q *notificationQueue) build(order domain.Order, kind domain.NotificationKind, recipient, subject, body string) domain.Notification {
	now := q.clock()
	return domain.Notification{
		ID:            ensureNotificationID(q.newID()),
		Kind:          kind,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Recipient:     recipient,
		Subject:       subject,
		Body:          body,
		Status:        domain.NotificationStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (q *notificationQueue) orderSummary(order domain.Order, intro string) string {
	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n\n")
	for _, item := range order.LineItems {
		b.WriteString(q.printer.Sprintf("%s x %d: %d %s\n", item.Name, item.Quantity, item.Subtotal(), q.currency))
	}
	b.WriteString(q.printer.Sprintf("Items: %d %s\n", order.Amounts.ItemsTotal, q.currency))
	b.WriteString(q.printer.Sprintf("Tax: %d %s\n", order.Amounts.TaxPrice, q.currency))
	b.WriteString(q.printer.Sprintf("Shipping: %d %s\n", order.Amounts.ShippingPrice, q.currency))
	b.WriteString(q.printer.Sprintf("Total: %d %s\n", order.Amounts.TotalPrice, q.currency))
	fmt.Fprintf(&b, "Payment method: %s\n", strings.ReplaceAll(string(order.PaymentMethod), "_", " "))
	return b.String()
}

func (q *notificationQueue) insert(ctx context.Context, entries []domain.Notification) error {
	if len(entries) == 0 {
		return nil
	}
	if err := q.repo.InsertMany(ctx, entries); err != nil {
		return fmt.Errorf("enqueue notifications: %w", err)
	}
	for _, entry := range entries {
		q.logger(ctx, "notification.enqueued", map[string]any{
			"notificationId": entry.ID,
			"orderId":        entry.OrderID,
			"kind":           string(entry.Kind),
		})
	}
	return nil
}

func buyerRecipient(order domain.Order) string {
	if email := strings.TrimSpace(order.Owner.GuestEmail); email != "" {
		return email
	}
	return strings.TrimSpace(order.Shipping.Email)
}

func ensureNotificationID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "ntf_") {
		return id
	}
	return "ntf_" + id
}
