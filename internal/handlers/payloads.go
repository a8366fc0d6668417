package handlers

import (
	"strings"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/services"
)

type createOrderRequest struct {
	OrderItems    []orderItemRequest  `json:"order_items"`
	ShippingInfo  shippingInfoPayload `json:"shipping_info"`
	PaymentMethod string              `json:"payment_method"`
	TaxPrice      int64               `json:"tax_price"`
	ShippingPrice int64               `json:"shipping_price"`
	GuestEmail    string              `json:"guest_email"`
}

type orderItemRequest struct {
	Product string `json:"product"`
	Qty     int    `json:"qty"`
}

type updateStatusRequest struct {
	OrderStatus           string  `json:"order_status"`
	Note                  string  `json:"note"`
	TrackingNumber        *string `json:"tracking_number"`
	EstimatedDeliveryDate *string `json:"estimated_delivery_date"`
}

type shippingInfoPayload struct {
	FullName   string `json:"full_name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
}

type orderItemPayload struct {
	Product string `json:"product"`
	Name    string `json:"name"`
	Image   string `json:"image,omitempty"`
	Price   int64  `json:"price"`
	Qty     int    `json:"qty"`
}

type statusHistoryPayload struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Note      string `json:"note,omitempty"`
}

type actorPayload struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

type orderPayload struct {
	ID                    string                 `json:"id"`
	OrderNumber           string                 `json:"order_number"`
	UserID                string                 `json:"user_id,omitempty"`
	GuestEmail            string                 `json:"guest_email,omitempty"`
	OrderItems            []orderItemPayload     `json:"order_items"`
	ShippingInfo          shippingInfoPayload    `json:"shipping_info"`
	PaymentMethod         string                 `json:"payment_method"`
	PaymentStatus         string                 `json:"payment_status"`
	IsPaid                bool                   `json:"is_paid"`
	PaidAt                string                 `json:"paid_at,omitempty"`
	ConfirmedBy           *actorPayload          `json:"confirmed_by,omitempty"`
	ItemsPrice            int64                  `json:"items_price"`
	TaxPrice              int64                  `json:"tax_price"`
	ShippingPrice         int64                  `json:"shipping_price"`
	TotalPrice            int64                  `json:"total_price"`
	OrderStatus           string                 `json:"order_status"`
	StatusHistory         []statusHistoryPayload `json:"status_history"`
	TrackingNumber        string                 `json:"tracking_number,omitempty"`
	EstimatedDeliveryDate string                 `json:"estimated_delivery_date,omitempty"`
	IsDelivered           bool                   `json:"is_delivered"`
	DeliveredAt           string                 `json:"delivered_at,omitempty"`
	CreatedAt             string                 `json:"created_at"`
	UpdatedAt             string                 `json:"updated_at,omitempty"`
}

type paymentConfirmationResponse struct {
	orderPayload
	AlreadyConfirmed bool `json:"already_confirmed"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	OrderStatus   string `json:"order_status"`
	PaymentStatus string `json:"payment_status"`
	TotalPrice    int64  `json:"total_price"`
	ItemCount     int    `json:"item_count"`
	CreatedAt     string `json:"created_at"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type trackingItemPayload struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
	Qty   int    `json:"qty"`
}

type trackingPayload struct {
	OrderNumber           string                 `json:"order_number"`
	OrderStatus           string                 `json:"order_status"`
	StatusHistory         []statusHistoryPayload `json:"status_history"`
	OrderItems            []trackingItemPayload  `json:"order_items"`
	TotalPrice            int64                  `json:"total_price"`
	IsPaid                bool                   `json:"is_paid"`
	PaymentStatus         string                 `json:"payment_status"`
	TrackingNumber        string                 `json:"tracking_number,omitempty"`
	EstimatedDeliveryDate string                 `json:"estimated_delivery_date,omitempty"`
	IsDelivered           bool                   `json:"is_delivered"`
	DeliveredAt           string                 `json:"delivered_at,omitempty"`
	ShipTo                trackingShipToPayload  `json:"ship_to"`
	CreatedAt             string                 `json:"created_at"`
}

type trackingShipToPayload struct {
	FullName string `json:"full_name"`
	City     string `json:"city"`
	Country  string `json:"country"`
}

func (r createOrderRequest) command(actor domain.Actor) services.CreateOrderCommand {
	items := make([]services.CreateOrderItem, 0, len(r.OrderItems))
	for _, item := range r.OrderItems {
		items = append(items, services.CreateOrderItem{ProductID: strings.TrimSpace(item.Product), Quantity: item.Qty})
	}
	return services.CreateOrderCommand{
		Actor:         actor,
		Items:         items,
		Shipping:      r.ShippingInfo.snapshot(),
		PaymentMethod: r.PaymentMethod,
		TaxPrice:      r.TaxPrice,
		ShippingPrice: r.ShippingPrice,
		GuestEmail:    r.GuestEmail,
	}
}

func (p shippingInfoPayload) snapshot() domain.ShippingSnapshot {
	return domain.ShippingSnapshot{
		FullName:   p.FullName,
		Address:    p.Address,
		City:       p.City,
		State:      p.State,
		Country:    p.Country,
		PostalCode: p.PostalCode,
		Phone:      p.Phone,
		Email:      p.Email,
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.Owner.UserID,
		GuestEmail:  order.Owner.GuestEmail,
		OrderItems:  make([]orderItemPayload, 0, len(order.LineItems)),
		ShippingInfo: shippingInfoPayload{
			FullName:   order.Shipping.FullName,
			Address:    order.Shipping.Address,
			City:       order.Shipping.City,
			State:      order.Shipping.State,
			Country:    order.Shipping.Country,
			PostalCode: order.Shipping.PostalCode,
			Phone:      order.Shipping.Phone,
			Email:      order.Shipping.Email,
		},
		PaymentMethod:         string(order.PaymentMethod),
		PaymentStatus:         string(order.Payment.Status),
		IsPaid:                order.Payment.IsPaid,
		PaidAt:                formatTime(order.Payment.PaidAt),
		ItemsPrice:            order.Amounts.ItemsTotal,
		TaxPrice:              order.Amounts.TaxPrice,
		ShippingPrice:         order.Amounts.ShippingPrice,
		TotalPrice:            order.Amounts.TotalPrice,
		OrderStatus:           string(order.Status),
		StatusHistory:         buildHistory(order.StatusHistory),
		TrackingNumber:        order.TrackingNumber,
		EstimatedDeliveryDate: formatTime(order.EstimatedDeliveryDate),
		IsDelivered:           order.IsDelivered,
		DeliveredAt:           formatTime(order.DeliveredAt),
		CreatedAt:             formatTime(&order.CreatedAt),
		UpdatedAt:             formatTime(&order.UpdatedAt),
	}
	for _, item := range order.LineItems {
		payload.OrderItems = append(payload.OrderItems, orderItemPayload{
			Product: item.ProductID,
			Name:    item.Name,
			Image:   item.Image,
			Price:   item.UnitPrice,
			Qty:     item.Quantity,
		})
	}
	if by := order.Payment.ConfirmedBy; by != nil {
		payload.ConfirmedBy = &actorPayload{Kind: string(by.Kind), ID: by.ID}
	}
	return payload
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	count := 0
	for _, item := range order.LineItems {
		count += item.Quantity
	}
	return orderSummaryPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		OrderStatus:   string(order.Status),
		PaymentStatus: string(order.Payment.Status),
		TotalPrice:    order.Amounts.TotalPrice,
		ItemCount:     count,
		CreatedAt:     formatTime(&order.CreatedAt),
	}
}

func buildTrackingPayload(view domain.OrderTracking) trackingPayload {
	payload := trackingPayload{
		OrderNumber:           view.OrderNumber,
		OrderStatus:           string(view.Status),
		StatusHistory:         buildHistory(view.StatusHistory),
		OrderItems:            make([]trackingItemPayload, 0, len(view.Items)),
		TotalPrice:            view.TotalPrice,
		IsPaid:                view.IsPaid,
		PaymentStatus:         string(view.PaymentStatus),
		TrackingNumber:        view.TrackingNumber,
		EstimatedDeliveryDate: formatTime(view.EstimatedDeliveryDate),
		IsDelivered:           view.IsDelivered,
		DeliveredAt:           formatTime(view.DeliveredAt),
		ShipTo: trackingShipToPayload{
			FullName: view.ShipTo.FullName,
			City:     view.ShipTo.City,
			Country:  view.ShipTo.Country,
		},
		CreatedAt: formatTime(&view.CreatedAt),
	}
	for _, item := range view.Items {
		payload.OrderItems = append(payload.OrderItems, trackingItemPayload{Name: item.Name, Image: item.Image, Qty: item.Quantity})
	}
	return payload
}

func buildHistory(entries []domain.StatusHistoryEntry) []statusHistoryPayload {
	out := make([]statusHistoryPayload, 0, len(entries))
	for _, entry := range entries {
		out = append(out, statusHistoryPayload{
			Status:    string(entry.Status),
			Timestamp: formatTime(&entry.Timestamp),
			Note:      entry.Note,
		})
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// parseDeliveryDate accepts a full RFC 3339 timestamp or a plain calendar date.
func parseDeliveryDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), true
	}
	if ts, err := time.Parse(time.DateOnly, raw); err == nil {
		return ts.UTC(), true
	}
	return time.Time{}, false
}
