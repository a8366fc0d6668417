package memory

import (
	"context"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

// Registry bundles the in-memory stores for local runs and tests.
type Registry struct {
	OrderStore        *OrderStore
	ProductStore      *ProductStore
	CartStore         *CartStore
	NotificationStore *NotificationStore
	health            repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds a registry whose product catalog is seeded with products.
func NewRegistry(products ...domain.Product) *Registry {
	health, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:     "memory",
		Critical: true,
		Check:    func(context.Context) error { return nil },
	}})
	return &Registry{
		OrderStore:        NewOrderStore(),
		ProductStore:      NewProductStore(products...),
		CartStore:         NewCartStore(),
		NotificationStore: NewNotificationStore(),
		health:            health,
	}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Orders() repositories.OrderRepository               { return r.OrderStore }
func (r *Registry) Products() repositories.ProductRepository           { return r.ProductStore }
func (r *Registry) Stock() repositories.StockRepository                { return r.ProductStore }
func (r *Registry) Carts() repositories.CartRepository                 { return r.CartStore }
func (r *Registry) Notifications() repositories.NotificationRepository { return r.NotificationStore }
func (r *Registry) Health() repositories.HealthRepository              { return r.health }
