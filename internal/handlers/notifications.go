package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/ordercore/internal/platform/httpx"
	"github.com/hanko-field/ordercore/internal/services"
)

const (
	defaultDispatchBatch = 50
	maxDispatchBatch     = 500
)

// NotificationHandlers lets Cloud Scheduler drain the outbox on demand.
type NotificationHandlers struct {
	dispatcher services.NotificationDispatcher
	batch      int
}

// NewNotificationHandlers constructs the internal notification handlers.
func NewNotificationHandlers(dispatcher services.NotificationDispatcher, batch int) *NotificationHandlers {
	if batch <= 0 {
		batch = defaultDispatchBatch
	}
	return &NotificationHandlers{dispatcher: dispatcher, batch: batch}
}

// Routes registers the /internal endpoints. Authentication is applied by the router group.
func (h *NotificationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/notifications:dispatch", h.dispatch)
}

type dispatchResponse struct {
	Due     int `json:"due"`
	Sent    int `json:"sent"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (h *NotificationHandlers) dispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.dispatcher == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispatcher_unavailable", "notification dispatcher unavailable", http.StatusServiceUnavailable))
		return
	}

	limit := h.batch
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = min(n, maxDispatchBatch)
	}

	result, err := h.dispatcher.DispatchDue(ctx, limit)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispatch_failed", "failed to dispatch notifications", http.StatusServiceUnavailable))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, dispatchResponse(result))
}
