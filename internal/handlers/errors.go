package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/hanko-field/ordercore/internal/platform/httpx"
	"github.com/hanko-field/ordercore/internal/platform/pagination"
	"github.com/hanko-field/ordercore/internal/services"
)

type errorMapping struct {
	target error
	code   string
	status int
}

// Order matters: ProductError wraps the stock sentinels.
var orderErrorMappings = []errorMapping{
	{services.ErrGuestEmailRequired, "guest_email_required", http.StatusBadRequest},
	{services.ErrInvalidStatus, "invalid_status", http.StatusBadRequest},
	{services.ErrOrderInvalidInput, "invalid_request", http.StatusBadRequest},
	{pagination.ErrInvalidPageToken, "invalid_page_token", http.StatusBadRequest},
	{pagination.ErrInvalidPageSize, "invalid_request", http.StatusBadRequest},
	{services.ErrProductNotFound, "product_not_found", http.StatusNotFound},
	{services.ErrInsufficientStock, "insufficient_stock", http.StatusConflict},
	{services.ErrOrderNotFound, "order_not_found", http.StatusNotFound},
	{services.ErrOrderPermissionDenied, "order_forbidden", http.StatusForbidden},
	{services.ErrOrderInvalidState, "order_invalid_state", http.StatusConflict},
	{services.ErrOrderConflict, "order_conflict", http.StatusConflict},
	{services.ErrSequenceExhausted, "sequence_exhausted", http.StatusServiceUnavailable},
	{services.ErrOrderUnavailable, "order_unavailable", http.StatusServiceUnavailable},
}

// writeOrderError maps service errors onto the HTTP envelope. Server errors carry a generic message
// unless verbose is set.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error, verbose bool) {
	if err == nil {
		return
	}

	apiErr := httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError)
	for _, m := range orderErrorMappings {
		if errors.Is(err, m.target) {
			apiErr = httpx.NewError(m.code, err.Error(), m.status)
			break
		}
	}
	if apiErr.Status >= http.StatusInternalServerError {
		if verbose {
			apiErr.Message = err.Error()
		} else {
			apiErr.Message = http.StatusText(apiErr.Status)
		}
	} else if apiErr.Code == "order_not_found" {
		apiErr.Message = "order not found"
	}

	var productErr *services.ProductError
	if errors.As(err, &productErr) && productErr.ProductID != "" {
		apiErr = apiErr.WithDetails(map[string]any{"product_id": productErr.ProductID})
	}
	httpx.WriteError(ctx, w, apiErr)
}
