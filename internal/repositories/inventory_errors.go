package repositories

import (
	"errors"
	"fmt"
)

// InventoryErrorCode enumerates repository error causes for stock operations.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorInsufficientStock indicates requested quantity exceeds the remaining count.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorProductNotFound indicates the product has no stock record.
	InventoryErrorProductNotFound InventoryErrorCode = "inventory_product_not_found"
	// InventoryErrorInvalidQuantity indicates a non-positive quantity was supplied.
	InventoryErrorInvalidQuantity InventoryErrorCode = "inventory_invalid_quantity"
)

// InventoryError wraps stock failures with a machine readable code and the offending product.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	ProductID string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInventoryError constructs a typed inventory error for a product.
func NewInventoryError(code InventoryErrorCode, productID, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{
		Code:      code,
		ProductID: productID,
		Message:   message,
		Err:       err,
	}
}

// AsInventoryError extracts an InventoryError from the chain.
func AsInventoryError(err error) (*InventoryError, bool) {
	var invErr *InventoryError
	if errors.As(err, &invErr) && invErr != nil {
		return invErr, true
	}
	return nil, false
}
