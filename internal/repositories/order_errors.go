package repositories

import (
	"errors"
	"fmt"
)

// OrderStoreErrorCode enumerates failure reasons for order persistence.
type OrderStoreErrorCode string

const (
	// OrderStoreUnknown represents an unspecified failure.
	OrderStoreUnknown OrderStoreErrorCode = "order_store_unknown"
	// OrderStoreNumberTaken indicates the order number is already claimed by another order.
	OrderStoreNumberTaken OrderStoreErrorCode = "order_number_taken"
	// OrderStoreDuplicateID indicates an order with the same id already exists.
	OrderStoreDuplicateID OrderStoreErrorCode = "order_duplicate_id"
)

// OrderStoreError wraps order persistence failures with machine readable codes.
type OrderStoreError struct {
	Op      string
	Code    OrderStoreErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OrderStoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderStoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsConflict lets callers treat store collisions like other repository conflicts.
func (e *OrderStoreError) IsConflict() bool {
	return e != nil && (e.Code == OrderStoreNumberTaken || e.Code == OrderStoreDuplicateID)
}

// IsNotFound implements RepositoryError.
func (e *OrderStoreError) IsNotFound() bool { return false }

// IsUnavailable implements RepositoryError.
func (e *OrderStoreError) IsUnavailable() bool { return false }

// NewOrderStoreError constructs a typed order store error.
func NewOrderStoreError(code OrderStoreErrorCode, message string, err error) *OrderStoreError {
	if message == "" {
		message = string(code)
	}
	return &OrderStoreError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsOrderNumberTaken reports whether err signals an order number collision at write time.
func IsOrderNumberTaken(err error) bool {
	var storeErr *OrderStoreError
	return errors.As(err, &storeErr) && storeErr.Code == OrderStoreNumberTaken
}
