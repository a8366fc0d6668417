package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// OrderStatus enumerates fulfillment lifecycle states for orders.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusQualityCheck   OrderStatus = "quality_check"
	OrderStatusPackaging      OrderStatus = "packaging"
	OrderStatusReadyToShip    OrderStatus = "ready_to_ship"
	OrderStatusShipped        OrderStatus = "shipped"
	OrderStatusInTransit      OrderStatus = "in_transit"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusReturned       OrderStatus = "returned"
	OrderStatusRefunded       OrderStatus = "refunded"
)

// FulfillmentPath lists the forward lifecycle in order. Side exits are not part of the path.
var FulfillmentPath = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusQualityCheck,
	OrderStatusPackaging,
	OrderStatusReadyToShip,
	OrderStatusShipped,
	OrderStatusInTransit,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
}

var knownOrderStatuses = map[OrderStatus]struct{}{
	OrderStatusPending:        {},
	OrderStatusConfirmed:      {},
	OrderStatusProcessing:     {},
	OrderStatusQualityCheck:   {},
	OrderStatusPackaging:      {},
	OrderStatusReadyToShip:    {},
	OrderStatusShipped:        {},
	OrderStatusInTransit:      {},
	OrderStatusOutForDelivery: {},
	OrderStatusDelivered:      {},
	OrderStatusCancelled:      {},
	OrderStatusReturned:       {},
	OrderStatusRefunded:       {},
}

var statusFolder = cases.Fold()

// ParseOrderStatus normalises raw input and reports whether it names a known status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	normalized := OrderStatus(statusFolder.String(strings.TrimSpace(raw)))
	if _, ok := knownOrderStatuses[normalized]; !ok {
		return "", false
	}
	return normalized, true
}

// IsKnown reports whether the status is part of the lifecycle enum.
func (s OrderStatus) IsKnown() bool {
	_, ok := knownOrderStatuses[s]
	return ok
}

// IsTerminal reports whether no further fulfillment transition is expected.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// PaymentMethod is the closed set of accepted payment methods.
type PaymentMethod string

const (
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodTransfer       PaymentMethod = "transfer"
)

// ParsePaymentMethod accepts snake case or the legacy camel case spelling.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch strings.ReplaceAll(statusFolder.String(strings.TrimSpace(raw)), "_", "") {
	case "cashondelivery", "cod":
		return PaymentMethodCashOnDelivery, true
	case "card":
		return PaymentMethodCard, true
	case "transfer", "banktransfer":
		return PaymentMethodTransfer, true
	default:
		return "", false
	}
}

// PaymentStatus tracks the settlement state of an order's payment.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Order is the durable order aggregate.
type Order struct {
	ID                    string
	OrderNumber           string
	Owner                 OrderOwner
	LineItems             []OrderLineItem
	Shipping              ShippingSnapshot
	PaymentMethod         PaymentMethod
	Payment               PaymentState
	Amounts               OrderAmounts
	Status                OrderStatus
	StatusHistory         []StatusHistoryEntry
	TrackingNumber        string
	EstimatedDeliveryDate *time.Time
	IsDelivered           bool
	DeliveredAt           *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// OrderOwner holds either a registered user reference or a guest contact email, never both.
type OrderOwner struct {
	UserID     string
	GuestEmail string
}

// IsGuest reports whether the order was placed without an account.
func (o OrderOwner) IsGuest() bool {
	return o.UserID == "" && o.GuestEmail != ""
}

// Valid reports whether exactly one owner field is set.
func (o OrderOwner) Valid() bool {
	return (o.UserID == "") != (o.GuestEmail == "")
}

// OrderLineItem snapshots product display data and price at order time.
type OrderLineItem struct {
	ProductID string
	Name      string
	Image     string
	UnitPrice int64
	Quantity  int
}

// MaxAmount caps every money value, in the smallest currency unit.
const MaxAmount int64 = 1_000_000_000_000

// ErrAmountOutOfRange reports a negative amount or one above MaxAmount.
var ErrAmountOutOfRange = errors.New("amount out of range")

// Subtotal returns unit price times quantity.
func (l OrderLineItem) Subtotal() (int64, error) {
	if l.UnitPrice < 0 || l.Quantity < 0 {
		return 0, fmt.Errorf("%w: line %s is negative", ErrAmountOutOfRange, l.ProductID)
	}
	if l.Quantity > 0 && l.UnitPrice > MaxAmount/int64(l.Quantity) {
		return 0, fmt.Errorf("%w: line %s subtotal exceeds %d", ErrAmountOutOfRange, l.ProductID, MaxAmount)
	}
	return l.UnitPrice * int64(l.Quantity), nil
}

// ShippingSnapshot is the immutable delivery address captured at checkout.
type ShippingSnapshot struct {
	FullName   string
	Address    string
	City       string
	State      string
	Country    string
	PostalCode string
	Phone      string
	Email      string
}

// PaymentState records payment settlement for an order.
type PaymentState struct {
	IsPaid      bool
	PaidAt      *time.Time
	Status      PaymentStatus
	ConfirmedBy *Actor
}

// OrderAmounts holds monetary fields in the smallest currency unit.
type OrderAmounts struct {
	ItemsTotal    int64
	TaxPrice      int64
	ShippingPrice int64
	TotalPrice    int64
}

// StatusHistoryEntry is one append-only record of a status change.
type StatusHistoryEntry struct {
	Status    OrderStatus
	Timestamp time.Time
	Note      string
}

// ItemsTotal sums the snapshotted line items.
func ItemsTotal(items []OrderLineItem) (int64, error) {
	var total int64
	for _, item := range items {
		subtotal, err := item.Subtotal()
		if err != nil {
			return 0, err
		}
		if total, err = AddAmounts(total, subtotal); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// ComputeAmounts prices an order. Every part and the total stay within [0, MaxAmount].
func ComputeAmounts(items []OrderLineItem, tax, shipping int64) (OrderAmounts, error) {
	itemsTotal, err := ItemsTotal(items)
	if err != nil {
		return OrderAmounts{}, err
	}
	total, err := AddAmounts(itemsTotal, tax, shipping)
	if err != nil {
		return OrderAmounts{}, err
	}
	return OrderAmounts{ItemsTotal: itemsTotal, TaxPrice: tax, ShippingPrice: shipping, TotalPrice: total}, nil
}

// AddAmounts sums values, failing instead of wrapping past MaxAmount.
func AddAmounts(values ...int64) (int64, error) {
	var sum int64
	for _, v := range values {
		if v < 0 || v > MaxAmount-sum {
			return 0, fmt.Errorf("%w: %d", ErrAmountOutOfRange, v)
		}
		sum += v
	}
	return sum, nil
}

// OrderTracking is the redacted, publicly shareable view of an order.
type OrderTracking struct {
	OrderNumber           string
	Status                OrderStatus
	StatusHistory         []StatusHistoryEntry
	Items                 []TrackingItem
	TotalPrice            int64
	IsPaid                bool
	PaymentStatus         PaymentStatus
	TrackingNumber        string
	EstimatedDeliveryDate *time.Time
	IsDelivered           bool
	DeliveredAt           *time.Time
	ShipTo                TrackingDestination
	CreatedAt             time.Time
}

// TrackingItem omits product references.
type TrackingItem struct {
	Name     string
	Image    string
	Quantity int
}

// TrackingDestination exposes only what a carrier label would show.
type TrackingDestination struct {
	FullName string
	City     string
	Country  string
}

// NewOrderTracking builds the redacted view from a full order.
func NewOrderTracking(order Order) OrderTracking {
	items := make([]TrackingItem, len(order.LineItems))
	for i, item := range order.LineItems {
		items[i] = TrackingItem{Name: item.Name, Image: item.Image, Quantity: item.Quantity}
	}
	history := make([]StatusHistoryEntry, len(order.StatusHistory))
	copy(history, order.StatusHistory)
	return OrderTracking{
		OrderNumber:           order.OrderNumber,
		Status:                order.Status,
		StatusHistory:         history,
		Items:                 items,
		TotalPrice:            order.Amounts.TotalPrice,
		IsPaid:                order.Payment.IsPaid,
		PaymentStatus:         order.Payment.Status,
		TrackingNumber:        order.TrackingNumber,
		EstimatedDeliveryDate: order.EstimatedDeliveryDate,
		IsDelivered:           order.IsDelivered,
		DeliveredAt:           order.DeliveredAt,
		ShipTo: TrackingDestination{
			FullName: order.Shipping.FullName,
			City:     order.Shipping.City,
			Country:  order.Shipping.Country,
		},
		CreatedAt: order.CreatedAt,
	}
}
