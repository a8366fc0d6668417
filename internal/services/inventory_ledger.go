package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/ordercore/internal/repositories"
)

const (
	eventInventoryReserved            = "inventory.reserved"
	eventInventoryCompensated         = "inventory.compensated"
	eventInventoryCompensationFailure = "inventory.compensation.failed"
)

// InventoryLedgerDeps bundles the collaborators required to construct an inventory ledger.
type InventoryLedgerDeps struct {
	Stock       repositories.StockRepository
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryLedger struct {
	stock  repositories.StockRepository
	batch  repositories.BatchStockRepository
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewInventoryLedger wires a stock repository into an InventoryLedger. Repositories that can decrement a
// whole basket atomically are used that way; the rest get a per-line reservation with compensation.
func NewInventoryLedger(deps InventoryLedgerDeps) (InventoryLedger, error) {
	if deps.Stock == nil {
		return nil, errors.New("inventory ledger: stock repository is required")
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	ledger := &inventoryLedger{
		stock:  deps.Stock,
		newID:  idGen,
		logger: logger,
	}
	if batch, ok := deps.Stock.(repositories.BatchStockRepository); ok {
		ledger.batch = batch
	}
	return ledger, nil
}

func (l *inventoryLedger) ReserveAll(ctx context.Context, lines []StockLine) (Reservation, error) {
	merged, err := mergeStockLines(lines)
	if err != nil {
		return Reservation{}, err
	}

	reservation := Reservation{
		ID:    ensureReservationID(l.newID()),
		Lines: merged,
	}

	if l.batch != nil {
		if err := l.batch.DecrementAll(ctx, merged); err != nil {
			return Reservation{}, mapStockError(err)
		}
	} else {
		for i, line := range merged {
			if err := l.stock.DecrementIfAvailable(ctx, line); err != nil {
				partial := Reservation{ID: reservation.ID, Lines: merged[:i]}
				l.compensate(ctx, partial)
				return Reservation{}, mapStockError(err)
			}
		}
	}

	l.logger(ctx, eventInventoryReserved, map[string]any{
		"reservationId": reservation.ID,
		"lines":         len(merged),
	})
	return reservation, nil
}

func (l *inventoryLedger) Release(ctx context.Context, reservation Reservation) error {
	if strings.TrimSpace(reservation.ID) == "" {
		return fmt.Errorf("%w: reservation id is required", ErrOrderInvalidInput)
	}
	return l.compensate(ctx, reservation)
}

// compensate restores lines in reverse order. Restore is idempotent per reservation and product, so a
// retried release never double counts.
func (l *inventoryLedger) compensate(ctx context.Context, reservation Reservation) error {
	var errs []error
	for i := len(reservation.Lines) - 1; i >= 0; i-- {
		line := reservation.Lines[i]
		if err := l.stock.Restore(ctx, reservation.ID, line); err != nil {
			l.logger(ctx, eventInventoryCompensationFailure, map[string]any{
				"reservationId": reservation.ID,
				"productId":     line.ProductID,
				"quantity":      line.Quantity,
				"error":         err.Error(),
			})
			errs = append(errs, fmt.Errorf("restore %s: %w", line.ProductID, err))
			continue
		}
		l.logger(ctx, eventInventoryCompensated, map[string]any{
			"reservationId": reservation.ID,
			"productId":     line.ProductID,
			"quantity":      line.Quantity,
		})
	}
	return errors.Join(errs...)
}

func mergeStockLines(lines []StockLine) ([]StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one stock line is required", ErrOrderInvalidInput)
	}
	index := make(map[string]int, len(lines))
	merged := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be greater than zero", ErrOrderInvalidInput, productID)
		}
		if pos, ok := index[productID]; ok {
			merged[pos].Quantity += line.Quantity
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, StockLine{ProductID: productID, Quantity: line.Quantity})
	}
	return merged, nil
}

func ensureReservationID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "rsv_") {
		return id
	}
	return "rsv_" + id
}
