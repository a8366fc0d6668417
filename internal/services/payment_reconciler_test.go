package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

func countKind(notifications []domain.Notification, kind domain.NotificationKind) int {
	n := 0
	for _, notification := range notifications {
		if notification.Kind == kind {
			n++
		}
	}
	return n
}

func TestPaymentReconcilerConfirmsOnce(t *testing.T) {
	core := newOrderCore(t)
	order := core.place(t, buyer("user-1"), CreateOrderItem{ProductID: "prod-seal", Quantity: 1})
	ctx := context.Background()

	first, err := core.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{OrderID: order.ID, ConfirmedBy: staff("op-1")})
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if first.AlreadyConfirmed {
		t.Fatalf("first confirmation must not be flagged as already confirmed")
	}
	paid := first.Order.Payment
	if !paid.IsPaid || paid.Status != domain.PaymentStatusCompleted || paid.PaidAt == nil {
		t.Fatalf("unexpected payment state %+v", paid)
	}
	if paid.ConfirmedBy == nil || paid.ConfirmedBy.ID != "op-1" {
		t.Fatalf("expected confirmer recorded, got %+v", paid.ConfirmedBy)
	}
	if first.Order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected pending order to advance to confirmed, got %s", first.Order.Status)
	}

	second, err := core.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{OrderID: order.ID, ConfirmedBy: staff("op-2")})
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if !second.AlreadyConfirmed {
		t.Fatalf("expected already confirmed signal")
	}
	if !second.Order.Payment.PaidAt.Equal(*paid.PaidAt) || second.Order.Payment.ConfirmedBy.ID != "op-1" {
		t.Fatalf("second confirmation changed payment state: %+v", second.Order.Payment)
	}
	if len(second.Order.StatusHistory) != len(first.Order.StatusHistory) {
		t.Fatalf("second confirmation appended history")
	}

	confirmedEntries := 0
	for _, entry := range second.Order.StatusHistory {
		if entry.Status == domain.OrderStatusConfirmed {
			confirmedEntries++
		}
	}
	if confirmedEntries != 1 {
		t.Fatalf("expected one confirmed history entry, got %d", confirmedEntries)
	}
	if got := countKind(core.registry.NotificationStore.All(), domain.NotificationPaymentConfirmed); got != 1 {
		t.Fatalf("expected a single payment notification, got %d", got)
	}
}

func TestPaymentReconcilerLeavesAdvancedStatus(t *testing.T) {
	core := newOrderCore(t)
	order := core.place(t, buyer("user-1"), CreateOrderItem{ProductID: "prod-seal", Quantity: 1})
	ctx := context.Background()

	if _, err := core.machine.Transition(ctx, TransitionCommand{OrderID: order.ID, Status: "shipped"}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	result, err := core.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{OrderID: order.ID, ConfirmedBy: staff("op-1")})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.Order.Status != domain.OrderStatusShipped {
		t.Fatalf("cash on delivery payment must not move a shipped order, got %s", result.Order.Status)
	}
}

func TestPaymentReconcilerBuyerOwnership(t *testing.T) {
	core := newOrderCore(t)
	order := core.place(t, buyer("user-1"), CreateOrderItem{ProductID: "prod-seal", Quantity: 1})
	ctx := context.Background()

	if _, err := core.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{OrderID: order.ID, ConfirmedBy: buyer("user-2")}); !errors.Is(err, ErrOrderPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := core.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{OrderID: order.ID, ConfirmedBy: domain.Actor{Kind: domain.ActorGuest}}); !errors.Is(err, ErrOrderPermissionDenied) {
		t.Fatalf("expected anonymous confirmation to be denied, got %v", err)
	}
	result, err := core.payments.ConfirmPayment(ctx, ConfirmPaymentCommand{OrderID: order.ID, ConfirmedBy: buyer("user-1")})
	if err != nil {
		t.Fatalf("owner confirm: %v", err)
	}
	if !result.Order.Payment.IsPaid {
		t.Fatalf("expected paid order")
	}
}

func TestPaymentReconcilerNotificationFailureKeepsPayment(t *testing.T) {
	core := newOrderCore(t)
	order := core.place(t, buyer("user-1"), CreateOrderItem{ProductID: "prod-seal", Quantity: 1})
	reconciler, err := NewPaymentReconciler(PaymentReconcilerDeps{
		Orders:        core.registry.Orders(),
		Notifications: failingQueue{},
		Logger:        core.events.log,
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	result, err := reconciler.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: order.ID, ConfirmedBy: staff("op-1")})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	stored, _ := core.registry.OrderStore.FindByID(context.Background(), order.ID)
	if !stored.Payment.IsPaid || !result.Order.Payment.IsPaid {
		t.Fatalf("payment must be committed despite notification failure")
	}
	if core.events.count("order.notification.enqueue_failed") != 1 {
		t.Fatalf("expected the enqueue failure to be logged")
	}
}

func TestPaymentReconcilerMissingOrder(t *testing.T) {
	core := newOrderCore(t)
	_, err := core.payments.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: "nope", ConfirmedBy: staff("op-1")})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
