package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/hanko-field/ordercore/internal/domain"
	pfirestore "github.com/hanko-field/ordercore/internal/platform/firestore"
	"github.com/hanko-field/ordercore/internal/repositories"
)

const (
	productsCollection          = "products"
	stockCompensationCollection = "stockCompensations"
)

type productDocument struct {
	Name          string    `firestore:"name"`
	Image         string    `firestore:"image,omitempty"`
	Price         int64     `firestore:"price"`
	Currency      string    `firestore:"currency,omitempty"`
	CountInStock  int       `firestore:"countInStock"`
	PurchaseCount int       `firestore:"purchaseCount"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

type stockCompensationDocument struct {
	ReservationID string    `firestore:"reservationId"`
	ProductID     string    `firestore:"productId"`
	Quantity      int       `firestore:"quantity"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

// ProductRepository reads catalog entries and maintains their stock counters transactionally.
type ProductRepository struct {
	provider *pfirestore.Provider
	clock    func() time.Time
}

var (
	_ repositories.ProductRepository    = (*ProductRepository)(nil)
	_ repositories.BatchStockRepository = (*ProductRepository)(nil)
	_ repositories.StockMirror          = (*ProductRepository)(nil)
)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{provider: provider, clock: time.Now}, nil
}

// FindByID loads a product with its current counters.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, pfirestore.NotFound("products.get", "product id is empty")
	}
	coll, err := r.provider.Collection(ctx, productsCollection)
	if err != nil {
		return domain.Product{}, err
	}
	snap, err := coll.Doc(productID).Get(ctx)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.get", err)
	}
	doc, err := pfirestore.Decode[productDocument](snap)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// All streams the catalog. It seeds external stock counters at startup.
func (r *ProductRepository) All(ctx context.Context) ([]domain.Product, error) {
	coll, err := r.provider.Collection(ctx, productsCollection)
	if err != nil {
		return nil, err
	}
	iter := coll.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return products, nil
		}
		if err != nil {
			return nil, pfirestore.WrapError("products.list", err)
		}
		doc, err := pfirestore.Decode[productDocument](snap)
		if err != nil {
			return nil, err
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}
}

// DecrementIfAvailable subtracts one line inside a transaction.
func (r *ProductRepository) DecrementIfAvailable(ctx context.Context, line repositories.StockLine) error {
	return r.DecrementAll(ctx, []repositories.StockLine{line})
}

// DecrementAll reads every product, validates the combined quantities and only then writes.
func (r *ProductRepository) DecrementAll(ctx context.Context, lines []repositories.StockLine) error {
	combined, order, err := combineLines(lines)
	if err != nil {
		return err
	}
	coll, err := r.provider.Collection(ctx, productsCollection)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs := make([]*firestore.DocumentRef, len(order))
		for i, productID := range order {
			refs[i] = coll.Doc(productID)
		}
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		docs := make([]productDocument, len(snaps))
		for i, snap := range snaps {
			productID := order[i]
			if !snap.Exists() {
				return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, productID, fmt.Sprintf("product %s not found", productID), nil)
			}
			doc, err := pfirestore.Decode[productDocument](snap)
			if err != nil {
				return err
			}
			if doc.CountInStock < combined[productID] {
				return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, productID, fmt.Sprintf("insufficient stock for %s", productID), nil)
			}
			docs[i] = doc
		}
		now := r.clock().UTC()
		for i, ref := range refs {
			quantity := combined[order[i]]
			if err := tx.Update(ref, []firestore.Update{
				{Path: "countInStock", Value: docs[i].CountInStock - quantity},
				{Path: "purchaseCount", Value: docs[i].PurchaseCount + quantity},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		return nil
	}, pfirestore.WithTxLabel("products.decrementAll"))
	return wrapInventoryError("products.decrement", err)
}

// Restore returns a reserved quantity once per reservation and product. A marker document in
// stockCompensations is created in the same transaction as the increment.
func (r *ProductRepository) Restore(ctx context.Context, reservationID string, line repositories.StockLine) error {
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return errors.New("products restore: reservation id is required")
	}
	if line.Quantity <= 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, line.ProductID, fmt.Sprintf("quantity for %s must be > 0", line.ProductID), nil)
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	productRef := client.Collection(productsCollection).Doc(line.ProductID)
	markerRef := client.Collection(stockCompensationCollection).Doc(reservationID + "_" + line.ProductID)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(markerRef); err == nil {
			return nil
		} else if !pfirestore.IsNotFoundStatus(err) {
			return err
		}
		snap, err := tx.Get(productRef)
		if err != nil {
			if pfirestore.IsNotFoundStatus(err) {
				return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, line.ProductID, fmt.Sprintf("product %s not found", line.ProductID), nil)
			}
			return err
		}
		doc, err := pfirestore.Decode[productDocument](snap)
		if err != nil {
			return err
		}
		now := r.clock().UTC()
		purchases := doc.PurchaseCount - line.Quantity
		if purchases < 0 {
			purchases = 0
		}
		if err := tx.Update(productRef, []firestore.Update{
			{Path: "countInStock", Value: doc.CountInStock + line.Quantity},
			{Path: "purchaseCount", Value: purchases},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		return tx.Create(markerRef, stockCompensationDocument{
			ReservationID: reservationID,
			ProductID:     line.ProductID,
			Quantity:      line.Quantity,
			CreatedAt:     now,
		})
	}, pfirestore.WithTxLabel("products.restore"))
	return wrapInventoryError("products.restore", err)
}

// Increment mirrors a committed stock change with server-side increments, so concurrent
// mirrors commute.
func (r *ProductRepository) Increment(ctx context.Context, productID string, delta int) error {
	if delta == 0 {
		return nil
	}
	coll, err := r.provider.Collection(ctx, productsCollection)
	if err != nil {
		return err
	}
	_, err = coll.Doc(productID).Update(ctx, []firestore.Update{
		{Path: "countInStock", Value: firestore.Increment(delta)},
		{Path: "purchaseCount", Value: firestore.Increment(-delta)},
		{Path: "updatedAt", Value: r.clock().UTC()},
	})
	if pfirestore.IsNotFoundStatus(err) {
		return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, productID, fmt.Sprintf("product %s not found", productID), nil)
	}
	return wrapInventoryError("products.increment", err)
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:            id,
		Name:          d.Name,
		Image:         d.Image,
		Price:         d.Price,
		Currency:      d.Currency,
		CountInStock:  d.CountInStock,
		PurchaseCount: d.PurchaseCount,
		UpdatedAt:     d.UpdatedAt,
	}
}

// combineLines merges repeated products so a transaction validates their summed quantity.
func combineLines(lines []repositories.StockLine) (map[string]int, []string, error) {
	if len(lines) == 0 {
		return nil, nil, errors.New("stock lines are required")
	}
	combined := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" || line.Quantity <= 0 {
			return nil, nil, repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, productID, fmt.Sprintf("quantity for %q must be > 0", productID), nil)
		}
		if _, seen := combined[productID]; !seen {
			order = append(order, productID)
		}
		combined[productID] += line.Quantity
	}
	return combined, order, nil
}

// wrapInventoryError keeps typed inventory errors intact and classifies everything else.
func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	if invErr, ok := repositories.AsInventoryError(err); ok {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
