package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
	"github.com/hanko-field/ordercore/internal/repositories/memory"
)

var fixtureNow = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickingClock(start time.Time) *tickingClock {
	return &tickingClock{now: start}
}

// Now advances one millisecond per call so generated timestamps stay ordered.
func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func sequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s%04d", prefix, n.Add(1))
	}
}

func fixtureProducts() []domain.Product {
	return []domain.Product{
		{ID: "prod-seal", Name: "Round seal", Image: "/img/seal.png", Price: 4200, Currency: "JPY", CountInStock: 10},
		{ID: "prod-case", Name: "Seal case", Image: "/img/case.png", Price: 1800, Currency: "JPY", CountInStock: 10},
		{ID: "prod-last", Name: "Last unit", Price: 9900, Currency: "JPY", CountInStock: 1},
		{ID: "prod-empty", Name: "Sold out", Price: 500, Currency: "JPY", CountInStock: 0},
	}
}

func fixtureShipping() domain.ShippingSnapshot {
	return domain.ShippingSnapshot{
		FullName:   "Aiko Tanaka",
		Address:    "1-2-3 Shibuya",
		City:       "Tokyo",
		Country:    "JP",
		PostalCode: "150-0002",
		Phone:      "+81 3 1234 5678",
		Email:      "aiko@example.com",
	}
}

func buyer(id string) domain.Actor {
	return domain.Actor{Kind: domain.ActorUser, ID: id, Email: id + "@example.com"}
}

func staff(id string) domain.Actor {
	return domain.Actor{Kind: domain.ActorStaff, ID: id}
}

type orderCore struct {
	registry     *memory.Registry
	orchestrator OrderOrchestrator
	machine      StatusMachine
	payments     PaymentReconciler
	events       *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) count(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == event {
			n++
		}
	}
	return n
}

type coreOption func(*OrderOrchestratorDeps)

func newOrderCore(t *testing.T, opts ...coreOption) *orderCore {
	t.Helper()

	registry := memory.NewRegistry(fixtureProducts()...)
	clock := newTickingClock(fixtureNow)
	events := &eventLog{}

	queue, err := NewNotificationQueue(NotificationQueueDeps{
		Notifications: registry.Notifications(),
		OperatorEmail: "ops@example.com",
		Clock:         clock.Now,
		IDGenerator:   sequentialIDs("N"),
	})
	if err != nil {
		t.Fatalf("new notification queue: %v", err)
	}
	sequence, err := NewSequenceAllocator(SequenceAllocatorDeps{
		Orders: registry.Orders(),
		Clock:  clock.Now,
		Logger: events.log,
	})
	if err != nil {
		t.Fatalf("new sequence allocator: %v", err)
	}
	ledger, err := NewInventoryLedger(InventoryLedgerDeps{Stock: registry.Stock(), Logger: events.log})
	if err != nil {
		t.Fatalf("new inventory ledger: %v", err)
	}

	deps := OrderOrchestratorDeps{
		Orders:        registry.Orders(),
		Products:      registry.Products(),
		Carts:         registry.Carts(),
		Sequence:      sequence,
		Inventory:     ledger,
		Notifications: queue,
		Clock:         clock.Now,
		IDGenerator:   sequentialIDs("ord_"),
		Logger:        events.log,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	orchestrator, err := NewOrderOrchestrator(deps)
	if err != nil {
		t.Fatalf("new order orchestrator: %v", err)
	}

	machine, err := NewStatusMachine(StatusMachineDeps{
		Orders:        registry.Orders(),
		Notifications: queue,
		Clock:         clock.Now,
		Logger:        events.log,
	})
	if err != nil {
		t.Fatalf("new status machine: %v", err)
	}
	payments, err := NewPaymentReconciler(PaymentReconcilerDeps{
		Orders:        registry.Orders(),
		Notifications: queue,
		Clock:         clock.Now,
		Logger:        events.log,
	})
	if err != nil {
		t.Fatalf("new payment reconciler: %v", err)
	}

	return &orderCore{
		registry:     registry,
		orchestrator: orchestrator,
		machine:      machine,
		payments:     payments,
		events:       events,
	}
}

func (c *orderCore) stock(t *testing.T, productID string) domain.Product {
	t.Helper()
	product, err := c.registry.ProductStore.FindByID(context.Background(), productID)
	if err != nil {
		t.Fatalf("find product %s: %v", productID, err)
	}
	return product
}

func (c *orderCore) place(t *testing.T, actor domain.Actor, items ...CreateOrderItem) domain.Order {
	t.Helper()
	cmd := CreateOrderCommand{
		Actor:         actor,
		Items:         items,
		Shipping:      fixtureShipping(),
		PaymentMethod: "cash_on_delivery",
		ShippingPrice: 2500,
	}
	if !actor.IsAuthenticated() {
		cmd.GuestEmail = "guest@example.com"
	}
	order, err := c.orchestrator.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

type stubOrderRepo struct {
	repositories.OrderRepository
	insertFn func(ctx context.Context, order domain.Order) error
	existsFn func(ctx context.Context, number string) (bool, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return s.OrderRepository.Insert(ctx, order)
}

func (s *stubOrderRepo) NumberExists(ctx context.Context, number string) (bool, error) {
	if s.existsFn != nil {
		return s.existsFn(ctx, number)
	}
	return s.OrderRepository.NumberExists(ctx, number)
}
