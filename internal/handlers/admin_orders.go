package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/auth"
	"github.com/hanko-field/ordercore/internal/platform/httpx"
	"github.com/hanko-field/ordercore/internal/services"
)

// AdminOrderHandlers serves the operator endpoints under /admin.
type AdminOrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderOrchestrator
	machine  services.StatusMachine
	payments services.PaymentReconciler
	verbose  bool
}

// NewAdminOrderHandlers constructs the admin order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderOrchestrator, machine services.StatusMachine, payments services.PaymentReconciler, verbose bool) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders, machine: machine, payments: payments, verbose: verbose}
}

// Routes registers the /admin endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/orders", h.listOrders)
	r.Put("/orders/{orderID}/status", h.updateStatus)
	r.Post("/orders/{orderID}/payment:confirm", h.confirmPayment)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	var statuses []domain.OrderStatus
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			status, ok := domain.ParseOrderStatus(part)
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_status", "unknown order status "+part, http.StatusBadRequest))
				return
			}
			statuses = append(statuses, status)
		}
	}

	writeOrderList(w, r, h.orders, services.ListOrdersQuery{
		Actor:    actorFromContext(ctx),
		UserID:   strings.TrimSpace(query.Get("user_id")),
		Statuses: statuses,
	}, h.verbose)
}

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.machine == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req updateStatusRequest
	if err := httpx.DecodeJSON(w, r, maxStatusBodySize, false, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	if strings.TrimSpace(req.OrderStatus) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_status is required", http.StatusBadRequest))
		return
	}

	cmd := services.TransitionCommand{
		OrderID:        strings.TrimSpace(chi.URLParam(r, "orderID")),
		Status:         req.OrderStatus,
		Note:           req.Note,
		TrackingNumber: req.TrackingNumber,
		Actor:          actorFromContext(ctx),
	}
	if req.EstimatedDeliveryDate != nil {
		date, ok := parseDeliveryDate(*req.EstimatedDeliveryDate)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimated_delivery_date must be an RFC 3339 timestamp or YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		cmd.EstimatedDeliveryDate = &date
	}

	order, err := h.machine.Transition(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err, h.verbose)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminOrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	writePaymentConfirmation(w, r, h.payments, h.verbose)
}
