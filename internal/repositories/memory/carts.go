package memory

import (
	"context"
	"sync"

	"github.com/hanko-field/ordercore/internal/repositories"
)

// CartStore tracks persisted cart lines per user.
type CartStore struct {
	mu    sync.Mutex
	items map[string][]repositories.StockLine
}

var _ repositories.CartRepository = (*CartStore)(nil)

// NewCartStore constructs an empty cart store.
func NewCartStore() *CartStore {
	return &CartStore{items: make(map[string][]repositories.StockLine)}
}

// Put replaces the cart contents for a user.
func (s *CartStore) Put(userID string, lines ...repositories.StockLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[userID] = append([]repositories.StockLine(nil), lines...)
}

// Items returns a copy of the user's cart lines.
func (s *CartStore) Items(userID string) []repositories.StockLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repositories.StockLine(nil), s.items[userID]...)
}

// Clear empties the user's cart. Clearing an absent cart is not an error.
func (s *CartStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, userID)
	return nil
}
