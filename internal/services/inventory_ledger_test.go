package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
	"github.com/hanko-field/ordercore/internal/repositories/memory"
)

// perLineStock hides DecrementAll so the ledger falls back to per-line reservation.
type perLineStock struct {
	store     *memory.ProductStore
	failOn    string
	decrement []string
	restored  []string
}

func (s *perLineStock) DecrementIfAvailable(ctx context.Context, line repositories.StockLine) error {
	if line.ProductID == s.failOn {
		return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, line.ProductID, "sold out", nil)
	}
	if err := s.store.DecrementIfAvailable(ctx, line); err != nil {
		return err
	}
	s.decrement = append(s.decrement, line.ProductID)
	return nil
}

func (s *perLineStock) Restore(ctx context.Context, reservationID string, line repositories.StockLine) error {
	s.restored = append(s.restored, line.ProductID)
	return s.store.Restore(ctx, reservationID, line)
}

func newLedger(t *testing.T, stock repositories.StockRepository) InventoryLedger {
	t.Helper()
	ledger, err := NewInventoryLedger(InventoryLedgerDeps{Stock: stock})
	if err != nil {
		t.Fatalf("new inventory ledger: %v", err)
	}
	return ledger
}

func TestInventoryLedgerMergesDuplicateLines(t *testing.T) {
	store := memory.NewProductStore(fixtureProducts()...)
	ledger := newLedger(t, store)

	reservation, err := ledger.ReserveAll(context.Background(), []StockLine{
		{ProductID: "prod-seal", Quantity: 2},
		{ProductID: "prod-case", Quantity: 1},
		{ProductID: "prod-seal", Quantity: 3},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(reservation.Lines) != 2 || reservation.Lines[0].Quantity != 5 {
		t.Fatalf("expected merged lines, got %+v", reservation.Lines)
	}
	seal, _ := store.FindByID(context.Background(), "prod-seal")
	if seal.CountInStock != 5 || seal.PurchaseCount != 5 {
		t.Fatalf("unexpected seal counters %+v", seal)
	}
}

func TestInventoryLedgerBatchIsAllOrNothing(t *testing.T) {
	store := memory.NewProductStore(fixtureProducts()...)
	ledger := newLedger(t, store)

	_, err := ledger.ReserveAll(context.Background(), []StockLine{
		{ProductID: "prod-seal", Quantity: 1},
		{ProductID: "prod-case", Quantity: 11},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	seal, _ := store.FindByID(context.Background(), "prod-seal")
	if seal.CountInStock != 10 {
		t.Fatalf("first line must not stay decremented: %+v", seal)
	}
}

func TestInventoryLedgerPerLineCompensatesInReverse(t *testing.T) {
	store := memory.NewProductStore(fixtureProducts()...)
	stock := &perLineStock{store: store, failOn: "prod-last"}
	ledger := newLedger(t, stock)

	_, err := ledger.ReserveAll(context.Background(), []StockLine{
		{ProductID: "prod-seal", Quantity: 1},
		{ProductID: "prod-case", Quantity: 2},
		{ProductID: "prod-last", Quantity: 1},
	})
	var productErr *ProductError
	if !errors.As(err, &productErr) || productErr.ProductID != "prod-last" || !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock for prod-last, got %v", err)
	}
	if len(stock.restored) != 2 || stock.restored[0] != "prod-case" || stock.restored[1] != "prod-seal" {
		t.Fatalf("expected LIFO compensation, got %v", stock.restored)
	}
	for _, id := range []string{"prod-seal", "prod-case"} {
		product, _ := store.FindByID(context.Background(), id)
		if product.CountInStock != 10 || product.PurchaseCount != 0 {
			t.Fatalf("%s not restored: %+v", id, product)
		}
	}
}

func TestInventoryLedgerReleaseIsIdempotent(t *testing.T) {
	store := memory.NewProductStore(fixtureProducts()...)
	ledger := newLedger(t, store)
	ctx := context.Background()

	reservation, err := ledger.ReserveAll(ctx, []StockLine{{ProductID: "prod-seal", Quantity: 4}})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := ledger.Release(ctx, reservation); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	seal, _ := store.FindByID(ctx, "prod-seal")
	if seal.CountInStock != 10 || seal.PurchaseCount != 0 {
		t.Fatalf("expected single restore, got %+v", seal)
	}
}

func TestInventoryLedgerRejectsInvalidLines(t *testing.T) {
	ledger := newLedger(t, memory.NewProductStore(fixtureProducts()...))
	for _, lines := range [][]StockLine{
		nil,
		{{ProductID: "", Quantity: 1}},
		{{ProductID: "prod-seal", Quantity: 0}},
	} {
		if _, err := ledger.ReserveAll(context.Background(), lines); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", lines, err)
		}
	}
}

func TestInventoryLedgerUnknownProduct(t *testing.T) {
	ledger := newLedger(t, memory.NewProductStore(fixtureProducts()...))
	_, err := ledger.ReserveAll(context.Background(), []StockLine{{ProductID: "ghost", Quantity: 1}})
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}

// naiveReserve is the read-then-write reservation the ledger replaces: check the counter, then decrement it
// with a separate unconditional write.
func naiveReserve(ctx context.Context, store *memory.ProductStore, line StockLine, checked *sync.WaitGroup) error {
	product, err := store.FindByID(ctx, line.ProductID)
	if err != nil {
		return err
	}
	enough := product.CountInStock >= line.Quantity
	checked.Done()
	checked.Wait()
	if !enough {
		return newProductError(ErrInsufficientStock, line.ProductID)
	}
	return store.Increment(ctx, line.ProductID, -line.Quantity)
}

func TestNaiveReservationOversellsUnderConcurrency(t *testing.T) {
	store := memory.NewProductStore(domain.Product{ID: "prod-last", Price: 100, CountInStock: 1})
	ctx := context.Background()

	var (
		checked sync.WaitGroup
		done    sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	checked.Add(2)
	for i := 0; i < 2; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			if err := naiveReserve(ctx, store, StockLine{ProductID: "prod-last", Quantity: 1}, &checked); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	done.Wait()

	product, _ := store.FindByID(ctx, "prod-last")
	if success != 2 || product.CountInStock != -1 {
		t.Fatalf("expected both naive reservations to pass and stock to go negative, got %d successes and stock %d", success, product.CountInStock)
	}
}

func TestInventoryLedgerHoldsNonNegativeStockUnderConcurrency(t *testing.T) {
	for name, wrap := range map[string]func(*memory.ProductStore) repositories.StockRepository{
		"batch":    func(s *memory.ProductStore) repositories.StockRepository { return s },
		"per-line": func(s *memory.ProductStore) repositories.StockRepository { return &lockedPerLine{store: s} },
	} {
		t.Run(name, func(t *testing.T) {
			store := memory.NewProductStore(domain.Product{ID: "prod-last", Price: 100, CountInStock: 1})
			ledger := newLedger(t, wrap(store))
			ctx := context.Background()

			const contenders = 16
			var (
				start   = make(chan struct{})
				wg      sync.WaitGroup
				mu      sync.Mutex
				success int
			)
			for i := 0; i < contenders; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := ledger.ReserveAll(ctx, []StockLine{{ProductID: "prod-last", Quantity: 1}})
					if err == nil {
						mu.Lock()
						success++
						mu.Unlock()
					} else if !errors.Is(err, ErrInsufficientStock) {
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			close(start)
			wg.Wait()

			product, _ := store.FindByID(ctx, "prod-last")
			if success != 1 || product.CountInStock != 0 {
				t.Fatalf("expected one winner and zero stock, got %d winners and stock %d", success, product.CountInStock)
			}
		})
	}
}

// lockedPerLine exposes only the conditional single-line operations of the store.
type lockedPerLine struct {
	store *memory.ProductStore
}

func (s *lockedPerLine) DecrementIfAvailable(ctx context.Context, line repositories.StockLine) error {
	return s.store.DecrementIfAvailable(ctx, line)
}

func (s *lockedPerLine) Restore(ctx context.Context, reservationID string, line repositories.StockLine) error {
	return s.store.Restore(ctx, reservationID, line)
}
