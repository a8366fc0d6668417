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

const (
	maxStatusNoteLength     = 500
	maxTrackingNumberLength = 64
)

// StatusMachineDeps bundles the collaborators required to construct a status machine.
type StatusMachineDeps struct {
	Orders        repositories.OrderRepository
	Notifications NotificationQueue
	Sanitizer     TextSanitizer
	// Strict rejects transitions that leave the forward fulfillment path, except the side exits.
	Strict bool
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type statusMachine struct {
	orders        repositories.OrderRepository
	notifications NotificationQueue
	sanitizer     TextSanitizer
	strict        bool
	clock         func() time.Time
	logger        func(context.Context, string, map[string]any)
}

var strictTransitions = buildStrictTransitions()

func buildStrictTransitions() map[domain.OrderStatus][]domain.OrderStatus {
	graph := make(map[domain.OrderStatus][]domain.OrderStatus, len(domain.FulfillmentPath)+3)
	for i, status := range domain.FulfillmentPath {
		if i+1 < len(domain.FulfillmentPath) {
			graph[status] = append(graph[status], domain.FulfillmentPath[i+1])
		}
		switch status {
		case domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusProcessing,
			domain.OrderStatusQualityCheck, domain.OrderStatusPackaging, domain.OrderStatusReadyToShip:
			graph[status] = append(graph[status], domain.OrderStatusCancelled)
		}
		switch status {
		case domain.OrderStatusShipped, domain.OrderStatusInTransit, domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered:
			graph[status] = append(graph[status], domain.OrderStatusReturned)
		}
		if status != domain.OrderStatusPending {
			graph[status] = append(graph[status], domain.OrderStatusRefunded)
		}
	}
	graph[domain.OrderStatusCancelled] = []domain.OrderStatus{domain.OrderStatusRefunded}
	graph[domain.OrderStatusReturned] = []domain.OrderStatus{domain.OrderStatusRefunded}
	return graph
}

// NewStatusMachine constructs the order status machine. Transitions are permissive unless Strict is set.
func NewStatusMachine(deps StatusMachineDeps) (StatusMachine, error) {
	if deps.Orders == nil {
		return nil, errors.New("status machine: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &statusMachine{
		orders:        deps.Orders,
		notifications: deps.Notifications,
		sanitizer:     deps.Sanitizer,
		strict:        deps.Strict,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// AllowedNext lists the statuses a transition from current may target.
func (m *statusMachine) AllowedNext(current domain.OrderStatus) []domain.OrderStatus {
	if !m.strict {
		out := make([]domain.OrderStatus, 0, len(domain.FulfillmentPath)+3)
		out = append(out, domain.FulfillmentPath...)
		return append(out, domain.OrderStatusCancelled, domain.OrderStatusReturned, domain.OrderStatusRefunded)
	}
	next := strictTransitions[current]
	out := make([]domain.OrderStatus, len(next))
	copy(out, next)
	return out
}

func (m *statusMachine) Transition(ctx context.Context, cmd TransitionCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(cmd.Status)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %q", ErrInvalidStatus, cmd.Status)
	}

	note := m.clean(cmd.Note)
	if len([]rune(note)) > maxStatusNoteLength {
		return domain.Order{}, fmt.Errorf("%w: note exceeds %d characters", ErrOrderInvalidInput, maxStatusNoteLength)
	}
	var tracking *string
	if cmd.TrackingNumber != nil {
		value := m.clean(*cmd.TrackingNumber)
		if len([]rune(value)) > maxTrackingNumberLength {
			return domain.Order{}, fmt.Errorf("%w: tracking number exceeds %d characters", ErrOrderInvalidInput, maxTrackingNumberLength)
		}
		tracking = &value
	}

	now := m.clock()
	var previous domain.OrderStatus
	updated, err := m.orders.Update(ctx, orderID, func(order *domain.Order) (bool, error) {
		previous = order.Status
		if m.strict && !m.permitted(order.Status, target) {
			return false, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, target)
		}

		order.Status = target
		order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
			Status:    target,
			Timestamp: now,
			Note:      note,
		})
		if target == domain.OrderStatusDelivered {
			order.IsDelivered = true
			deliveredAt := now
			order.DeliveredAt = &deliveredAt
		}
		if tracking != nil {
			order.TrackingNumber = *tracking
		}
		if cmd.EstimatedDeliveryDate != nil {
			eta := cmd.EstimatedDeliveryDate.UTC()
			order.EstimatedDeliveryDate = &eta
		}
		order.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderInvalidState) {
			return domain.Order{}, err
		}
		return domain.Order{}, mapRepositoryError(err)
	}

	m.logger(ctx, "order.status.transitioned", map[string]any{
		"orderId": updated.ID,
		"from":    string(previous),
		"to":      string(target),
		"actor":   cmd.Actor.ID,
	})

	if m.notifications != nil && (target == domain.OrderStatusShipped || target == domain.OrderStatusDelivered) {
		if err := m.notifications.StatusChanged(ctx, updated); err != nil {
			m.logger(ctx, "order.notification.enqueue_failed", map[string]any{
				"orderId": updated.ID,
				"kind":    string(domain.NotificationOrderStatusChanged),
				"error":   err.Error(),
			})
		}
	}

	return updated, nil
}

func (m *statusMachine) permitted(current, target domain.OrderStatus) bool {
	for _, next := range strictTransitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

func (m *statusMachine) clean(value string) string {
	value = strings.TrimSpace(value)
	if m.sanitizer != nil {
		value = strings.TrimSpace(m.sanitizer.Sanitize(value))
	}
	return value
}
