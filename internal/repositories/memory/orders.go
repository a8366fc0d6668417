package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/pagination"
	"github.com/hanko-field/ordercore/internal/repositories"
)

const defaultListPageSize = 50

// OrderStore keeps orders in process. The order number index plays the role of a unique constraint.
type OrderStore struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	numbers map[string]string
}

var _ repositories.OrderRepository = (*OrderStore)(nil)

// NewOrderStore constructs an empty order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:  make(map[string]domain.Order),
		numbers: make(map[string]string),
	}
}

// Insert stores a new order, failing when the id or order number is already present.
func (s *OrderStore) Insert(_ context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return fmt.Errorf("memory orders insert: id is required")
	}
	if strings.TrimSpace(order.OrderNumber) == "" {
		return fmt.Errorf("memory orders insert: order number is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.numbers[order.OrderNumber]; ok {
		err := repositories.NewOrderStoreError(repositories.OrderStoreNumberTaken, fmt.Sprintf("order number %s already taken", order.OrderNumber), nil)
		err.Op = "memory.orders.insert"
		return err
	}
	if _, ok := s.orders[order.ID]; ok {
		err := repositories.NewOrderStoreError(repositories.OrderStoreDuplicateID, fmt.Sprintf("order %s already exists", order.ID), nil)
		err.Op = "memory.orders.insert"
		return err
	}

	s.orders[order.ID] = cloneOrder(order)
	s.numbers[order.OrderNumber] = order.ID
	return nil
}

// FindByID returns a copy of the stored order.
func (s *OrderStore) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("memory.orders.get", "order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

// FindByNumber resolves an order through the order number index.
func (s *OrderStore) FindByNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.numbers[orderNumber]
	if !ok {
		return domain.Order{}, notFound("memory.orders.getByNumber", "order number %s not found", orderNumber)
	}
	return cloneOrder(s.orders[id]), nil
}

// NumberExists reports whether the order number index holds the value.
func (s *OrderStore) NumberExists(_ context.Context, orderNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.numbers[orderNumber]
	return ok, nil
}

// Update applies mutate under the store lock, which stands in for a transaction.
func (s *OrderStore) Update(_ context.Context, orderID string, mutate repositories.OrderMutation) (domain.Order, error) {
	if mutate == nil {
		return domain.Order{}, fmt.Errorf("memory orders update: mutation is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("memory.orders.update", "order %s not found", orderID)
	}

	working := cloneOrder(current)
	changed, err := mutate(&working)
	if err != nil {
		return domain.Order{}, err
	}
	if !changed {
		return cloneOrder(current), nil
	}
	if working.OrderNumber != current.OrderNumber {
		return domain.Order{}, conflict("memory.orders.update", "order number of %s is immutable", orderID)
	}

	s.orders[orderID] = cloneOrder(working)
	return working, nil
}

// List filters and pages orders, newest first, using the shared cursor token format.
func (s *OrderStore) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken, filter.CursorScope())
	if err != nil {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("memory orders list: %w", err)
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = defaultListPageSize
	}

	statuses := make(map[domain.OrderStatus]struct{}, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses[status] = struct{}{}
	}

	s.mu.Lock()
	matched := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if filter.UserID != "" && order.Owner.UserID != filter.UserID {
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[order.Status]; !ok {
				continue
			}
		}
		if !cursor.Admits(order.CreatedAt, order.ID) {
			continue
		}
		matched = append(matched, cloneOrder(order))
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := domain.CursorPage[domain.Order]{Items: matched}
	if len(matched) > size {
		page.Items = matched[:size]
		last := page.Items[size-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID, Scope: filter.CursorScope()})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	if order.LineItems != nil {
		out.LineItems = make([]domain.OrderLineItem, len(order.LineItems))
		copy(out.LineItems, order.LineItems)
	}
	if order.StatusHistory != nil {
		out.StatusHistory = make([]domain.StatusHistoryEntry, len(order.StatusHistory))
		copy(out.StatusHistory, order.StatusHistory)
	}
	out.Payment.PaidAt = cloneTime(order.Payment.PaidAt)
	if order.Payment.ConfirmedBy != nil {
		actor := *order.Payment.ConfirmedBy
		out.Payment.ConfirmedBy = &actor
	}
	out.EstimatedDeliveryDate = cloneTime(order.EstimatedDeliveryDate)
	out.DeliveredAt = cloneTime(order.DeliveredAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
