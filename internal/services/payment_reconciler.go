package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

const paymentConfirmedNote = "payment confirmed"

// PaymentReconcilerDeps bundles the collaborators required to construct a payment reconciler.
type PaymentReconcilerDeps struct {
	Orders        repositories.OrderRepository
	Notifications NotificationQueue
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentReconciler struct {
	orders        repositories.OrderRepository
	notifications NotificationQueue
	clock         func() time.Time
	logger        func(context.Context, string, map[string]any)
}

// NewPaymentReconciler constructs a PaymentReconciler backed by the order repository.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (PaymentReconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment reconciler: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentReconciler{
		orders:        deps.Orders,
		notifications: deps.Notifications,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (r *paymentReconciler) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (PaymentConfirmation, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentConfirmation{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := cmd.ConfirmedBy
	if !actor.IsAuthenticated() && actor.Kind != domain.ActorSystem {
		return PaymentConfirmation{}, fmt.Errorf("%w: payment confirmation requires an identified actor", ErrOrderPermissionDenied)
	}

	now := r.clock()
	alreadyConfirmed := false
	updated, err := r.orders.Update(ctx, orderID, func(order *domain.Order) (bool, error) {
		if actor.Kind == domain.ActorUser && order.Owner.UserID != actor.ID {
			return false, fmt.Errorf("%w: order %s belongs to another user", ErrOrderPermissionDenied, order.ID)
		}
		if order.Payment.Status == domain.PaymentStatusCompleted {
			alreadyConfirmed = true
			return false, nil
		}

		paidAt := now
		confirmedBy := actor
		order.Payment.IsPaid = true
		order.Payment.PaidAt = &paidAt
		order.Payment.Status = domain.PaymentStatusCompleted
		order.Payment.ConfirmedBy = &confirmedBy
		if order.Status == domain.OrderStatusPending {
			order.Status = domain.OrderStatusConfirmed
			order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
				Status:    domain.OrderStatusConfirmed,
				Timestamp: now,
				Note:      paymentConfirmedNote,
			})
		}
		order.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderPermissionDenied) {
			return PaymentConfirmation{}, err
		}
		return PaymentConfirmation{}, mapRepositoryError(err)
	}

	if alreadyConfirmed {
		r.logger(ctx, "order.payment.already_confirmed", map[string]any{
			"orderId": updated.ID,
			"actor":   actor.ID,
		})
		return PaymentConfirmation{Order: updated, AlreadyConfirmed: true}, nil
	}

	r.logger(ctx, "order.payment.confirmed", map[string]any{
		"orderId":     updated.ID,
		"orderNumber": updated.OrderNumber,
		"actor":       actor.ID,
		"actorKind":   string(actor.Kind),
	})

	if r.notifications != nil {
		if err := r.notifications.PaymentConfirmed(ctx, updated); err != nil {
			r.logger(ctx, "order.notification.enqueue_failed", map[string]any{
				"orderId": updated.ID,
				"kind":    string(domain.NotificationPaymentConfirmed),
				"error":   err.Error(),
			})
		}
	}

	return PaymentConfirmation{Order: updated}, nil
}
