package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

// Type aliases keep handler signatures short.
type (
	Order         = domain.Order
	OrderStatus   = domain.OrderStatus
	OrderTracking = domain.OrderTracking
	Actor         = domain.Actor
	Notification  = domain.Notification
	StockLine     = repositories.StockLine
)

// SequenceAllocator hands out human-facing order numbers.
type SequenceAllocator interface {
	Allocate(ctx context.Context) (string, error)
}

// InventoryLedger reserves and restores product stock.
type InventoryLedger interface {
	ReserveAll(ctx context.Context, lines []StockLine) (Reservation, error)
	Release(ctx context.Context, reservation Reservation) error
}

// StatusMachine moves orders through the fulfillment lifecycle.
type StatusMachine interface {
	Transition(ctx context.Context, cmd TransitionCommand) (Order, error)
	AllowedNext(current OrderStatus) []OrderStatus
}

// PaymentReconciler confirms order payments idempotently.
type PaymentReconciler interface {
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (PaymentConfirmation, error)
}

// OrderOrchestrator is the entry point for order creation and order reads.
type OrderOrchestrator interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, query GetOrderQuery) (Order, error)
	TrackOrder(ctx context.Context, ref string) (OrderTracking, error)
	ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error)
}

// NotificationQueue records notifications in the durable outbox.
type NotificationQueue interface {
	OrderCreated(ctx context.Context, order Order) error
	PaymentConfirmed(ctx context.Context, order Order) error
	StatusChanged(ctx context.Context, order Order) error
}

// NotificationSender delivers one rendered notification to the mail pipeline.
type NotificationSender interface {
	SendNotification(ctx context.Context, notification Notification) error
}

// NotificationDispatcher drains due outbox entries.
type NotificationDispatcher interface {
	DispatchDue(ctx context.Context, limit int) (DispatchResult, error)
	Run(ctx context.Context, interval time.Duration, batch int)
}

// TextSanitizer strips markup from free text before it is stored.
type TextSanitizer interface {
	Sanitize(value string) string
}

// Reservation records what ReserveAll decremented so it can be compensated.
type Reservation struct {
	ID    string
	Lines []StockLine
}

// CreateOrderItem is one requested product and quantity.
type CreateOrderItem struct {
	ProductID string
	Quantity  int
}

// CreateOrderCommand carries a finalized checkout submission.
type CreateOrderCommand struct {
	Actor         Actor
	Items         []CreateOrderItem
	Shipping      domain.ShippingSnapshot
	PaymentMethod string
	TaxPrice      int64
	ShippingPrice int64
	GuestEmail    string
}

// GetOrderQuery reads one order on behalf of an actor.
type GetOrderQuery struct {
	OrderID string
	Actor   Actor
}

// ListOrdersQuery lists orders. Non-staff actors only ever see their own orders.
type ListOrdersQuery struct {
	Actor      Actor
	UserID     string
	Statuses   []OrderStatus
	Pagination domain.Pagination
}

// TransitionCommand changes an order's status and optionally its fulfillment fields.
type TransitionCommand struct {
	OrderID               string
	Status                string
	Note                  string
	TrackingNumber        *string
	EstimatedDeliveryDate *time.Time
	Actor                 Actor
}

// ConfirmPaymentCommand confirms payment on behalf of a buyer or an operator.
type ConfirmPaymentCommand struct {
	OrderID     string
	ConfirmedBy Actor
}

// PaymentConfirmation is the result of ConfirmPayment. AlreadyConfirmed marks an idempotent no-op.
type PaymentConfirmation struct {
	Order            Order
	AlreadyConfirmed bool
}

// DispatchResult summarises one dispatcher pass.
type DispatchResult struct {
	Due     int
	Sent    int
	Retried int
	Failed  int
	Skipped int
}
