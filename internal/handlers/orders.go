package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/auth"
	"github.com/hanko-field/ordercore/internal/platform/httpx"
	"github.com/hanko-field/ordercore/internal/platform/pagination"
	"github.com/hanko-field/ordercore/internal/platform/requestctx"
	"github.com/hanko-field/ordercore/internal/services"
)

const (
	maxCreateOrderBodySize = 64 * 1024
	maxStatusBodySize      = 8 * 1024
)

// OrderHandlers serves the buyer facing order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderOrchestrator
	payments    services.PaymentReconciler
	idempotency func(http.Handler) http.Handler
	rateLimit   func(http.Handler) http.Handler
	verbose     bool
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithCreateIdempotency guards order creation with the given middleware.
func WithCreateIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// WithCreateRateLimit throttles order creation with the given middleware.
func WithCreateRateLimit(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.rateLimit = mw
	}
}

// WithVerboseErrors exposes server error detail in responses. Only for local environments.
func WithVerboseErrors(verbose bool) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.verbose = verbose
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderOrchestrator, payments services.PaymentReconciler, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders, payments: payments}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(create chi.Router) {
		if h.authn != nil {
			create.Use(h.authn.OptionalFirebaseAuth())
		}
		if h.rateLimit != nil {
			create.Use(h.rateLimit)
		}
		if h.idempotency != nil {
			create.Use(h.idempotency)
		}
		create.Post("/", h.createOrder)
	})
	r.Group(func(owner chi.Router) {
		if h.authn != nil {
			owner.Use(h.authn.RequireFirebaseAuth())
		}
		owner.Get("/{orderID}", h.getOrder)
		owner.Post("/{orderID}/payment:confirm", h.confirmPayment)
	})
}

// MeRoutes registers the /me endpoints.
func (h *OrderHandlers) MeRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/orders", h.listMyOrders)
}

// TrackRoutes registers the public tracking endpoint.
func (h *OrderHandlers) TrackRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{ref}", h.trackOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(w, r, maxCreateOrderBodySize, false, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}

	order, err := h.orders.CreateOrder(ctx, req.command(actorFromContext(ctx)))
	if err != nil {
		writeOrderError(ctx, w, err, h.verbose)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Actor:   actorFromContext(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err, h.verbose)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	writePaymentConfirmation(w, r, h.payments, h.verbose)
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFromContext(ctx)
	writeOrderList(w, r, h.orders, services.ListOrdersQuery{Actor: actor, UserID: actor.ID}, h.verbose)
}

func (h *OrderHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	view, err := h.orders.TrackOrder(ctx, chi.URLParam(r, "ref"))
	if err != nil {
		writeOrderError(ctx, w, err, h.verbose)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildTrackingPayload(view))
}

func writePaymentConfirmation(w http.ResponseWriter, r *http.Request, payments services.PaymentReconciler, verbose bool) {
	ctx := r.Context()
	if payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	result, err := payments.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderID:     strings.TrimSpace(chi.URLParam(r, "orderID")),
		ConfirmedBy: actorFromContext(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err, verbose)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, paymentConfirmationResponse{
		orderPayload:     buildOrderPayload(result.Order),
		AlreadyConfirmed: result.AlreadyConfirmed,
	})
}

func writeOrderList(w http.ResponseWriter, r *http.Request, orders services.OrderOrchestrator, query services.ListOrdersQuery, verbose bool) {
	ctx := r.Context()
	if orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		writeOrderError(ctx, w, err, verbose)
		return
	}
	query.Pagination = domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}

	page, err := orders.ListOrders(ctx, query)
	if err != nil {
		writeOrderError(ctx, w, err, verbose)
		return
	}

	response := orderListResponse{
		Items:         make([]orderSummaryPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		response.Items = append(response.Items, buildOrderSummary(order))
	}
	httpx.WriteJSON(w, http.StatusOK, response)
}

// actorFromContext falls back to an anonymous guest when no middleware resolved an identity.
func actorFromContext(ctx context.Context) domain.Actor {
	if actor, ok := requestctx.Actor(ctx); ok {
		return actor
	}
	return domain.Actor{Kind: domain.ActorGuest}
}
