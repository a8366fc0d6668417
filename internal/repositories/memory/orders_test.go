package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/pagination"
	"github.com/hanko-field/ordercore/internal/repositories"
)

func newOrder(id, number, user string, created time.Time) domain.Order {
	return domain.Order{
		ID:          id,
		OrderNumber: number,
		Owner:       domain.OrderOwner{UserID: user},
		Status:      domain.OrderStatusPending,
		LineItems:   []domain.OrderLineItem{{ProductID: "p1", Quantity: 1, UnitPrice: 100}},
		CreatedAt:   created,
	}
}

func TestOrderStoreInsertEnforcesUniqueness(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()
	now := time.Now()

	if err := store.Insert(ctx, newOrder("o1", "ORD-2025-00000101", "u1", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := store.Insert(ctx, newOrder("o2", "ORD-2025-00000101", "u1", now))
	if !repositories.IsOrderNumberTaken(err) {
		t.Fatalf("expected number taken, got %v", err)
	}
	err = store.Insert(ctx, newOrder("o1", "ORD-2025-00000102", "u1", now))
	storeErr, ok := err.(*repositories.OrderStoreError)
	if !ok || storeErr.Code != repositories.OrderStoreDuplicateID || !storeErr.IsConflict() {
		t.Fatalf("expected duplicate id conflict, got %v", err)
	}
	exists, _ := store.NumberExists(ctx, "ORD-2025-00000102")
	if exists {
		t.Fatalf("rejected insert must not reserve its number")
	}
}

func TestOrderStoreUpdateIsolatesCopies(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()
	if err := store.Insert(ctx, newOrder("o1", "ORD-2025-00000101", "u1", time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	read, _ := store.FindByID(ctx, "o1")
	read.LineItems[0].UnitPrice = 1
	again, _ := store.FindByID(ctx, "o1")
	if again.LineItems[0].UnitPrice != 100 {
		t.Fatalf("reads must return copies")
	}

	if _, err := store.Update(ctx, "o1", func(o *domain.Order) (bool, error) {
		o.OrderNumber = "ORD-2025-99999999"
		return true, nil
	}); err == nil {
		t.Fatalf("expected order number to be immutable")
	}

	unchanged, err := store.Update(ctx, "o1", func(o *domain.Order) (bool, error) {
		o.Status = domain.OrderStatusShipped
		return false, nil
	})
	if err != nil || unchanged.Status != domain.OrderStatusPending {
		t.Fatalf("skipped mutation must not persist, got %s %v", unchanged.Status, err)
	}

	if _, err := store.Update(ctx, "missing", func(*domain.Order) (bool, error) { return true, nil }); err == nil {
		t.Fatalf("expected not found")
	} else if repoErr, ok := err.(repositories.RepositoryError); !ok || !repoErr.IsNotFound() {
		t.Fatalf("expected repository not found error, got %v", err)
	}
}

func TestOrderStoreListPagesNewestFirst(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, user := range []string{"u1", "u2", "u1", "u1"} {
		order := newOrder(string(rune('a'+i)), "ORD-2025-0000010"+string(rune('0'+i)), user, base.Add(time.Duration(i)*time.Minute))
		if i == 2 {
			order.Status = domain.OrderStatusShipped
		}
		if err := store.Insert(ctx, order); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	first, err := store.List(ctx, repositories.OrderListFilter{UserID: "u1", Pagination: domain.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].ID != "d" || first.Items[1].ID != "c" || first.NextPageToken == "" {
		t.Fatalf("unexpected first page %+v", first)
	}
	second, err := store.List(ctx, repositories.OrderListFilter{UserID: "u1", Pagination: domain.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != "a" || second.NextPageToken != "" {
		t.Fatalf("unexpected second page %+v", second)
	}

	shipped, _ := store.List(ctx, repositories.OrderListFilter{Statuses: []domain.OrderStatus{domain.OrderStatusShipped}})
	if len(shipped.Items) != 1 || shipped.Items[0].ID != "c" {
		t.Fatalf("unexpected status filter result %+v", shipped.Items)
	}
	if _, err := store.List(ctx, repositories.OrderListFilter{Pagination: domain.Pagination{PageToken: "x"}}); err == nil {
		t.Fatalf("expected invalid page token error")
	}
	if _, err := store.List(ctx, repositories.OrderListFilter{UserID: "u2", Pagination: domain.Pagination{PageToken: first.NextPageToken}}); !errors.Is(err, pagination.ErrInvalidPageToken) {
		t.Fatalf("expected token from another owner's listing to be rejected, got %v", err)
	}
}
