package firestore

import (
	"context"
	"errors"
	"strings"

	pfirestore "github.com/hanko-field/ordercore/internal/platform/firestore"
	"github.com/hanko-field/ordercore/internal/repositories"
)

const cartsCollection = "carts"

// CartRepository clears persisted carts stored at carts/{userID}.
type CartRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{provider: provider}, nil
}

// Clear deletes the user's cart document. Deleting a missing document succeeds.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("carts clear: user id is required")
	}
	coll, err := r.provider.Collection(ctx, cartsCollection)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(userID).Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.clear", err)
	}
	return nil
}
