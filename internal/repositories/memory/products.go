package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

// ProductStore holds catalog entries and their stock counters. Every counter change happens under one
// mutex, so DecrementIfAvailable and DecrementAll behave like conditional storage writes.
type ProductStore struct {
	mu          sync.Mutex
	products    map[string]domain.Product
	compensated map[string]struct{}
	clock       func() time.Time
}

var (
	_ repositories.ProductRepository    = (*ProductStore)(nil)
	_ repositories.BatchStockRepository = (*ProductStore)(nil)
	_ repositories.StockMirror          = (*ProductStore)(nil)
)

// NewProductStore seeds the store with the provided products.
func NewProductStore(products ...domain.Product) *ProductStore {
	store := &ProductStore{
		products:    make(map[string]domain.Product, len(products)),
		compensated: make(map[string]struct{}),
		clock:       time.Now,
	}
	for _, product := range products {
		store.products[product.ID] = product
	}
	return store
}

// Put inserts or replaces a product.
func (s *ProductStore) Put(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

// FindByID returns the product including its current counters.
func (s *ProductStore) FindByID(_ context.Context, productID string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[strings.TrimSpace(productID)]
	if !ok {
		return domain.Product{}, notFound("memory.products.get", "product %s not found", productID)
	}
	return product, nil
}

// DecrementIfAvailable subtracts the quantity only when enough stock remains.
func (s *ProductStore) DecrementIfAvailable(_ context.Context, line repositories.StockLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, err := s.checkLocked(line)
	if err != nil {
		return err
	}
	s.applyLocked(product, -line.Quantity)
	return nil
}

// DecrementAll validates every line before touching any counter.
func (s *ProductStore) DecrementAll(_ context.Context, lines []repositories.StockLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Lines may repeat a product; validate against the combined quantity.
	combined := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return invalidQuantity(line)
		}
		if _, seen := combined[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		combined[line.ProductID] += line.Quantity
	}

	products := make([]domain.Product, 0, len(order))
	for _, productID := range order {
		product, err := s.checkLocked(repositories.StockLine{ProductID: productID, Quantity: combined[productID]})
		if err != nil {
			return err
		}
		products = append(products, product)
	}
	for _, product := range products {
		s.applyLocked(product, -combined[product.ID])
	}
	return nil
}

// Restore adds the quantity back once per reservation and product.
func (s *ProductStore) Restore(ctx context.Context, reservationID string, line repositories.StockLine) error {
	key := reservationID + "|" + line.ProductID
	s.mu.Lock()
	if _, done := s.compensated[key]; done {
		s.mu.Unlock()
		return nil
	}
	s.compensated[key] = struct{}{}
	s.mu.Unlock()

	if err := s.Increment(ctx, line.ProductID, line.Quantity); err != nil {
		s.mu.Lock()
		delete(s.compensated, key)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Increment applies an unconditional delta to the stock counter and the inverse to the purchase counter.
func (s *ProductStore) Increment(_ context.Context, productID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, productID, fmt.Sprintf("product %s not found", productID), nil)
	}
	s.applyLocked(product, delta)
	return nil
}

func (s *ProductStore) checkLocked(line repositories.StockLine) (domain.Product, error) {
	if line.Quantity <= 0 {
		return domain.Product{}, invalidQuantity(line)
	}
	product, ok := s.products[line.ProductID]
	if !ok {
		return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, line.ProductID, fmt.Sprintf("product %s not found", line.ProductID), nil)
	}
	if product.CountInStock < line.Quantity {
		return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, line.ProductID, fmt.Sprintf("insufficient stock for %s", line.ProductID), nil)
	}
	return product, nil
}

func (s *ProductStore) applyLocked(product domain.Product, delta int) {
	product.CountInStock += delta
	product.PurchaseCount -= delta
	if product.PurchaseCount < 0 {
		product.PurchaseCount = 0
	}
	product.UpdatedAt = s.clock().UTC()
	s.products[product.ID] = product
}

func invalidQuantity(line repositories.StockLine) error {
	return repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, line.ProductID, fmt.Sprintf("quantity for %s must be > 0", line.ProductID), nil)
}
