package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/hanko-field/ordercore/internal/platform/firestore"
	"github.com/hanko-field/ordercore/internal/repositories"
)

// Registry wires the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider      *pfirestore.Provider
	orders        *OrderRepository
	products      *ProductRepository
	stock         repositories.StockRepository
	carts         *CartRepository
	notifications *NotificationRepository
	health        repositories.HealthRepository
	extraChecks   []repositories.DependencyCheck
	closers       []func(context.Context) error
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises the registry.
type RegistryOption func(*Registry)

// WithStockRepository replaces the Firestore stock counters, for example with a Redis ledger.
func WithStockRepository(stock repositories.StockRepository) RegistryOption {
	return func(r *Registry) {
		if stock != nil {
			r.stock = stock
		}
	}
}

// WithDependencyCheck adds a readiness probe next to the Firestore ping.
func WithDependencyCheck(check repositories.DependencyCheck) RegistryOption {
	return func(r *Registry) {
		r.extraChecks = append(r.extraChecks, check)
	}
}

// WithCloser registers a hook run by Close after the provider shuts down.
func WithCloser(fn func(context.Context) error) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.closers = append(r.closers, fn)
		}
	}
}

// NewRegistry builds every repository on top of one provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	notifications, err := NewNotificationRepository(provider)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		provider:      provider,
		orders:        orders,
		products:      products,
		stock:         products,
		carts:         carts,
		notifications: notifications,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}

	checks := append([]repositories.DependencyCheck{{Name: "firestore", Critical: true, Check: provider.Ping}}, reg.extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	reg.health = health
	return reg, nil
}

// Close shuts the provider down and then runs registered closers.
func (r *Registry) Close(ctx context.Context) error {
	errs := []error{r.provider.Close(ctx)}
	for _, fn := range r.closers {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) Products() repositories.ProductRepository           { return r.products }
func (r *Registry) Catalog() *ProductRepository                        { return r.products }
func (r *Registry) Stock() repositories.StockRepository                { return r.stock }
func (r *Registry) Carts() repositories.CartRepository                 { return r.carts }
func (r *Registry) Notifications() repositories.NotificationRepository { return r.notifications }
func (r *Registry) Health() repositories.HealthRepository              { return r.health }
