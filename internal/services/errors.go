package services

import (
	"errors"
	"fmt"

	"github.com/hanko-field/ordercore/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided missing or malformed data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrGuestEmailRequired signals a guest checkout without a contact email.
	ErrGuestEmailRequired = errors.New("order: guest email required")
	// ErrInvalidStatus signals an order status outside the lifecycle enum.
	ErrInvalidStatus = errors.New("order: invalid status")
	// ErrProductNotFound signals a line item referencing an unknown product.
	ErrProductNotFound = errors.New("order: product not found")
	// ErrInsufficientStock signals a line item asking for more units than remain.
	ErrInsufficientStock = errors.New("order: insufficient stock")
	// ErrSequenceExhausted signals that no unused order number was found within the attempt budget.
	ErrSequenceExhausted = errors.New("order: order number sequence exhausted")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderPermissionDenied indicates the actor may not act on the order.
	ErrOrderPermissionDenied = errors.New("order: permission denied")
	// ErrOrderInvalidState indicates a transition rejected by strict transition mode.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent write or duplicate.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the backing store is temporarily unreachable.
	ErrOrderUnavailable = errors.New("order: storage unavailable")
)

// ProductError ties a business-rule failure to the product that caused it.
type ProductError struct {
	Reason    error
	ProductID string
}

func (e *ProductError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%v: product %s", e.Reason, e.ProductID)
}

func (e *ProductError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Reason
}

func newProductError(reason error, productID string) *ProductError {
	return &ProductError{Reason: reason, ProductID: productID}
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func mapStockError(err error) error {
	if err == nil {
		return nil
	}
	invErr, ok := repositories.AsInventoryError(err)
	if !ok {
		return mapRepositoryError(err)
	}
	switch invErr.Code {
	case repositories.InventoryErrorInsufficientStock:
		return newProductError(ErrInsufficientStock, invErr.ProductID)
	case repositories.InventoryErrorProductNotFound:
		return newProductError(ErrProductNotFound, invErr.ProductID)
	case repositories.InventoryErrorInvalidQuantity:
		return fmt.Errorf("%w: %s", ErrOrderInvalidInput, invErr.Message)
	default:
		return mapRepositoryError(err)
	}
}
