package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/ordercore/internal/domain"
	pfirestore "github.com/hanko-field/ordercore/internal/platform/firestore"
	"github.com/hanko-field/ordercore/internal/platform/pagination"
	"github.com/hanko-field/ordercore/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
	defaultOrderPageSize   = 20
	maxStatusFilterValues  = 30
)

// OrderRepository persists orders in Firestore. Order numbers are reserved through a
// dedicated orderNumbers/{number} document created in the same transaction as the order.
type OrderRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

// Insert writes the order and claims its number atomically.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	orderID := strings.TrimSpace(order.ID)
	number := strings.TrimSpace(order.OrderNumber)
	if orderID == "" || number == "" {
		return errors.New("orders insert: id and order number are required")
	}

	orders, numbers, err := r.collections(ctx)
	if err != nil {
		return err
	}
	orderRef := orders.Doc(orderID)
	numberRef := numbers.Doc(number)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(numberRef); err == nil {
			return orderStoreError("orders.insert", repositories.OrderStoreNumberTaken, "order number %s already taken", number)
		} else if !pfirestore.IsNotFoundStatus(err) {
			return err
		}
		if _, err := tx.Get(orderRef); err == nil {
			return orderStoreError("orders.insert", repositories.OrderStoreDuplicateID, "order %s already exists", orderID)
		} else if !pfirestore.IsNotFoundStatus(err) {
			return err
		}
		if err := tx.Create(numberRef, orderNumberDocument{OrderID: orderID, CreatedAt: order.CreatedAt.UTC()}); err != nil {
			return err
		}
		return tx.Create(orderRef, newOrderDocument(order))
	}, pfirestore.WithTxLabel("orders.insert"))
	var storeErr *repositories.OrderStoreError
	if errors.As(err, &storeErr) {
		return storeErr
	}
	return err
}

// FindByID loads an order document.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, pfirestore.NotFound("orders.get", "order id is empty")
	}
	orders, _, err := r.collections(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := orders.Doc(orderID).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	doc, err := pfirestore.Decode[orderDocument](snap)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// FindByNumber resolves the number index and loads the referenced order.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	_, numbers, err := r.collections(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := numbers.Doc(strings.TrimSpace(orderNumber)).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.getByNumber", err)
	}
	index, err := pfirestore.Decode[orderNumberDocument](snap)
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, index.OrderID)
}

// NumberExists reports whether the number index already holds the value.
func (r *OrderRepository) NumberExists(ctx context.Context, orderNumber string) (bool, error) {
	_, numbers, err := r.collections(ctx)
	if err != nil {
		return false, err
	}
	_, err = numbers.Doc(strings.TrimSpace(orderNumber)).Get(ctx)
	switch {
	case err == nil:
		return true, nil
	case pfirestore.IsNotFoundStatus(err):
		return false, nil
	default:
		return false, pfirestore.WrapError("orders.numberExists", err)
	}
}

// Update runs mutate inside a transaction and writes the result when it reports a change.
func (r *OrderRepository) Update(ctx context.Context, orderID string, mutate repositories.OrderMutation) (domain.Order, error) {
	if mutate == nil {
		return domain.Order{}, errors.New("orders update: mutation is required")
	}
	orders, _, err := r.collections(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	ref := orders.Doc(strings.TrimSpace(orderID))

	var (
		result    domain.Order
		mutateErr error
	)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		mutateErr = nil
		snap, err := tx.Get(ref)
		if err != nil {
			if pfirestore.IsNotFoundStatus(err) {
				return pfirestore.NotFound("orders.update", "order %s not found", orderID)
			}
			return err
		}
		doc, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		current := doc.toDomain(snap.Ref.ID)
		working := doc.toDomain(snap.Ref.ID)

		changed, err := mutate(&working)
		if err != nil {
			mutateErr = err
			return err
		}
		if !changed {
			result = current
			return nil
		}
		if working.OrderNumber != current.OrderNumber {
			return pfirestore.Conflict("orders.update", "order number of %s is immutable", orderID)
		}
		result = working
		return tx.Set(ref, newOrderDocument(working))
	}, pfirestore.WithTxLabel("orders.update"))
	if mutateErr != nil {
		return domain.Order{}, mutateErr
	}
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

// List pages orders newest first. Composite indexes on (userId, createdAt) and
// (status, createdAt) back the filtered variants.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken, filter.CursorScope())
	if err != nil {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders list: %w", err)
	}
	if len(filter.Statuses) > maxStatusFilterValues {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders list: at most %d statuses may be combined", maxStatusFilterValues)
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = defaultOrderPageSize
	}

	orders, _, err := r.collections(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	query := orders.Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userId", "==", userID)
	}
	switch len(filter.Statuses) {
	case 0:
	case 1:
		query = query.Where("status", "==", string(filter.Statuses[0]))
	default:
		values := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			values[i] = string(status)
		}
		query = query.Where("status", "in", values)
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if !cursor.IsZero() {
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	query = query.Limit(size + 1)

	items, err := pfirestore.Collect(ctx, "orders.list", query, func(id string, doc orderDocument) domain.Order {
		return doc.toDomain(id)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: items}
	if len(items) > size {
		page.Items = items[:size]
		last := page.Items[size-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID, Scope: filter.CursorScope()})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	if page.Items == nil {
		page.Items = []domain.Order{}
	}
	return page, nil
}

func (r *OrderRepository) collections(ctx context.Context) (*firestore.CollectionRef, *firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, nil, err
	}
	return client.Collection(ordersCollection), client.Collection(orderNumbersCollection), nil
}

func orderStoreError(op string, code repositories.OrderStoreErrorCode, format string, args ...any) error {
	err := repositories.NewOrderStoreError(code, fmt.Sprintf(format, args...), nil)
	err.Op = op
	return err
}

func timePtr(t time.Time) *time.Time {
	v := t.UTC()
	return &v
}
