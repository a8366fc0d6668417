package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/pagination"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Stock() StockRepository
	Carts() CartRepository
	Notifications() NotificationRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderMutation edits an order in place inside a storage transaction. Returning false skips the write.
type OrderMutation func(order *domain.Order) (bool, error)

// OrderRepository persists order aggregates. Insert must enforce order number uniqueness at write time
// and report a collision as an OrderStoreError with code OrderStoreNumberTaken.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	NumberExists(ctx context.Context, orderNumber string) (bool, error)
	Update(ctx context.Context, orderID string, mutate OrderMutation) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings. Results are ordered by creation time, newest first.
type OrderListFilter struct {
	UserID     string
	Statuses   []domain.OrderStatus
	Pagination domain.Pagination
}

// CursorScope identifies the filter a page token was issued for.
func (f OrderListFilter) CursorScope() string {
	values := make([]string, 0, len(f.Statuses)+1)
	if f.UserID != "" {
		values = append(values, "user="+f.UserID)
	}
	for _, status := range f.Statuses {
		values = append(values, "status="+string(status))
	}
	return pagination.Scope(values...)
}

// ProductRepository reads the catalog fields needed at order time.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// StockLine is one product and quantity to decrement or restore.
type StockLine struct {
	ProductID string
	Quantity  int
}

// StockRepository owns the per-product stock and purchase counters.
// DecrementIfAvailable is a single conditional operation: it fails with InventoryErrorInsufficientStock
// without mutating anything when fewer than Quantity units remain.
// Restore undoes a decrement and is idempotent per reservation and product.
type StockRepository interface {
	DecrementIfAvailable(ctx context.Context, line StockLine) error
	Restore(ctx context.Context, reservationID string, line StockLine) error
}

// BatchStockRepository is implemented by stores that can decrement several products in one transaction.
type BatchStockRepository interface {
	StockRepository
	DecrementAll(ctx context.Context, lines []StockLine) error
}

// StockMirror applies counter changes that another store already committed to the catalog entry,
// so product documents keep reflecting sales. delta moves stock; purchases move the other way.
type StockMirror interface {
	Increment(ctx context.Context, productID string, delta int) error
}

// CartRepository exposes the cart operations the order flow needs.
type CartRepository interface {
	Clear(ctx context.Context, userID string) error
}

// NotificationRepository is the durable outbox for background notifications.
type NotificationRepository interface {
	InsertMany(ctx context.Context, notifications []domain.Notification) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	Claim(ctx context.Context, notificationID string, now time.Time, lease time.Duration) (domain.Notification, error)
	Save(ctx context.Context, notification domain.Notification) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
