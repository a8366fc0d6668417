package firestore

import (
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

type orderDocument struct {
	OrderNumber           string             `firestore:"orderNumber"`
	UserID                string             `firestore:"userId,omitempty"`
	GuestEmail            string             `firestore:"guestEmail,omitempty"`
	LineItems             []lineItemDocument `firestore:"lineItems"`
	Shipping              shippingDocument   `firestore:"shipping"`
	PaymentMethod         string             `firestore:"paymentMethod"`
	Payment               paymentDocument    `firestore:"payment"`
	Amounts               amountsDocument    `firestore:"amounts"`
	Status                string             `firestore:"status"`
	StatusHistory         []historyDocument  `firestore:"statusHistory"`
	TrackingNumber        string             `firestore:"trackingNumber,omitempty"`
	EstimatedDeliveryDate *time.Time         `firestore:"estimatedDeliveryDate,omitempty"`
	IsDelivered           bool               `firestore:"isDelivered"`
	DeliveredAt           *time.Time         `firestore:"deliveredAt,omitempty"`
	CreatedAt             time.Time          `firestore:"createdAt"`
	UpdatedAt             time.Time          `firestore:"updatedAt"`
}

type lineItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Image     string `firestore:"image,omitempty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
}

type shippingDocument struct {
	FullName   string `firestore:"fullName"`
	Address    string `firestore:"address"`
	City       string `firestore:"city,omitempty"`
	State      string `firestore:"state,omitempty"`
	Country    string `firestore:"country,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Phone      string `firestore:"phone"`
	Email      string `firestore:"email,omitempty"`
}

type paymentDocument struct {
	IsPaid      bool           `firestore:"isPaid"`
	PaidAt      *time.Time     `firestore:"paidAt,omitempty"`
	Status      string         `firestore:"status"`
	ConfirmedBy *actorDocument `firestore:"confirmedBy,omitempty"`
}

type actorDocument struct {
	Kind  string `firestore:"kind"`
	ID    string `firestore:"id,omitempty"`
	Email string `firestore:"email,omitempty"`
}

type amountsDocument struct {
	ItemsTotal    int64 `firestore:"itemsTotal"`
	TaxPrice      int64 `firestore:"taxPrice"`
	ShippingPrice int64 `firestore:"shippingPrice"`
	TotalPrice    int64 `firestore:"totalPrice"`
}

type historyDocument struct {
	Status    string    `firestore:"status"`
	Timestamp time.Time `firestore:"timestamp"`
	Note      string    `firestore:"note,omitempty"`
}

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:   order.OrderNumber,
		UserID:        order.Owner.UserID,
		GuestEmail:    order.Owner.GuestEmail,
		LineItems:     make([]lineItemDocument, len(order.LineItems)),
		PaymentMethod: string(order.PaymentMethod),
		Payment: paymentDocument{
			IsPaid: order.Payment.IsPaid,
			PaidAt: utcPtr(order.Payment.PaidAt),
			Status: string(order.Payment.Status),
		},
		Amounts: amountsDocument{
			ItemsTotal:    order.Amounts.ItemsTotal,
			TaxPrice:      order.Amounts.TaxPrice,
			ShippingPrice: order.Amounts.ShippingPrice,
			TotalPrice:    order.Amounts.TotalPrice,
		},
		Status:                string(order.Status),
		StatusHistory:         make([]historyDocument, len(order.StatusHistory)),
		TrackingNumber:        order.TrackingNumber,
		EstimatedDeliveryDate: utcPtr(order.EstimatedDeliveryDate),
		IsDelivered:           order.IsDelivered,
		DeliveredAt:           utcPtr(order.DeliveredAt),
		CreatedAt:             order.CreatedAt.UTC(),
		UpdatedAt:             order.UpdatedAt.UTC(),
	}
	doc.Shipping = shippingDocument(order.Shipping)
	for i, item := range order.LineItems {
		doc.LineItems[i] = lineItemDocument(item)
	}
	for i, entry := range order.StatusHistory {
		doc.StatusHistory[i] = historyDocument{Status: string(entry.Status), Timestamp: entry.Timestamp.UTC(), Note: entry.Note}
	}
	if actor := order.Payment.ConfirmedBy; actor != nil {
		doc.Payment.ConfirmedBy = &actorDocument{Kind: string(actor.Kind), ID: actor.ID, Email: actor.Email}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:            id,
		OrderNumber:   d.OrderNumber,
		Owner:         domain.OrderOwner{UserID: d.UserID, GuestEmail: d.GuestEmail},
		LineItems:     make([]domain.OrderLineItem, len(d.LineItems)),
		Shipping:      domain.ShippingSnapshot(d.Shipping),
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		Payment: domain.PaymentState{
			IsPaid: d.Payment.IsPaid,
			PaidAt: d.Payment.PaidAt,
			Status: domain.PaymentStatus(d.Payment.Status),
		},
		Amounts:               domain.OrderAmounts(d.Amounts),
		Status:                domain.OrderStatus(d.Status),
		StatusHistory:         make([]domain.StatusHistoryEntry, len(d.StatusHistory)),
		TrackingNumber:        d.TrackingNumber,
		EstimatedDeliveryDate: d.EstimatedDeliveryDate,
		IsDelivered:           d.IsDelivered,
		DeliveredAt:           d.DeliveredAt,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
	for i, item := range d.LineItems {
		order.LineItems[i] = domain.OrderLineItem(item)
	}
	for i, entry := range d.StatusHistory {
		order.StatusHistory[i] = domain.StatusHistoryEntry{Status: domain.OrderStatus(entry.Status), Timestamp: entry.Timestamp, Note: entry.Note}
	}
	if actor := d.Payment.ConfirmedBy; actor != nil {
		order.Payment.ConfirmedBy = &domain.Actor{Kind: domain.ActorKind(actor.Kind), ID: actor.ID, Email: actor.Email}
	}
	return order
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
