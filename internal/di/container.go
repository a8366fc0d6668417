package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/ordercore/internal/platform/config"
	"github.com/hanko-field/ordercore/internal/platform/jobs"
	"github.com/hanko-field/ordercore/internal/platform/observability"
	"github.com/hanko-field/ordercore/internal/platform/textutil"
	"github.com/hanko-field/ordercore/internal/repositories"
	"github.com/hanko-field/ordercore/internal/services"
)

// readinessCacheTTL keeps load balancer probes from fanning out to every dependency.
const readinessCacheTTL = 2 * time.Second

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Sequence      services.SequenceAllocator
	Inventory     services.InventoryLedger
	Notifications services.NotificationQueue
	Dispatcher    services.NotificationDispatcher
	Status        services.StatusMachine
	Payments      services.PaymentReconciler
	Orders        services.OrderOrchestrator
	System        services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option customises the container.
type Option func(*options)

type options struct {
	logger *zap.Logger
	sender services.NotificationSender
	meter  metric.Meter
	build  services.BuildInfo
	clock  func() time.Time
}

// WithLogger sets the base logger; each service gets a named child.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithNotificationSender sets the transport the dispatcher delivers through. Without one, notifications are
// only logged.
func WithNotificationSender(sender services.NotificationSender) Option {
	return func(o *options) {
		if sender != nil {
			o.sender = sender
		}
	}
}

func WithMeter(meter metric.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) {
		o.build = build
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies on top of a repository registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.sender == nil {
		o.sender = jobs.NewLogNotificationSender(observability.ServiceLogger(o.logger.Named("notifications")))
	}

	svc, err := buildServices(ctx, reg, cfg, o)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, o options) (Services, error) {
	var svc Services
	logFor := func(name string) func(context.Context, string, map[string]any) {
		return observability.ServiceLogger(o.logger.Named(name))
	}
	sanitizer := textutil.NewPlainTextSanitizer()

	queue, err := services.NewNotificationQueue(services.NotificationQueueDeps{
		Notifications: reg.Notifications(),
		OperatorEmail: cfg.Orders.OperatorEmail,
		Currency:      cfg.Notifications.Currency,
		Locale:        cfg.Notifications.Locale,
		Clock:         o.clock,
		Logger:        logFor("notifications"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification queue: %w", err)
	}
	svc.Notifications = queue

	dispatcher, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Notifications:  reg.Notifications(),
		Sender:         o.sender,
		MaxAttempts:    cfg.Notifications.MaxAttempts,
		BackoffInitial: cfg.Notifications.BackoffInitial,
		BackoffMax:     cfg.Notifications.BackoffMax,
		Meter:          o.meter,
		Clock:          o.clock,
		Logger:         logFor("dispatcher"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification dispatcher: %w", err)
	}
	svc.Dispatcher = dispatcher

	sequence, err := services.NewSequenceAllocator(services.SequenceAllocatorDeps{
		Orders:      reg.Orders(),
		Prefix:      cfg.Orders.NumberPrefix,
		MaxAttempts: cfg.Orders.MaxSequenceAttempts,
		Clock:       o.clock,
		Logger:      logFor("sequence"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build sequence allocator: %w", err)
	}
	svc.Sequence = sequence

	inventory, err := services.NewInventoryLedger(services.InventoryLedgerDeps{
		Stock:  reg.Stock(),
		Logger: logFor("inventory"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory ledger: %w", err)
	}
	svc.Inventory = inventory

	machine, err := services.NewStatusMachine(services.StatusMachineDeps{
		Orders:        reg.Orders(),
		Notifications: queue,
		Sanitizer:     sanitizer,
		Strict:        cfg.Orders.StrictTransitions,
		Clock:         o.clock,
		Logger:        logFor("status"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build status machine: %w", err)
	}
	svc.Status = machine

	payments, err := services.NewPaymentReconciler(services.PaymentReconcilerDeps{
		Orders:        reg.Orders(),
		Notifications: queue,
		Clock:         o.clock,
		Logger:        logFor("payments"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment reconciler: %w", err)
	}
	svc.Payments = payments

	orders, err := services.NewOrderOrchestrator(services.OrderOrchestratorDeps{
		Orders:            reg.Orders(),
		Products:          reg.Products(),
		Carts:             reg.Carts(),
		Sequence:          sequence,
		Inventory:         inventory,
		Notifications:     queue,
		Sanitizer:         sanitizer,
		MaxNumberAttempts: cfg.Orders.MaxSequenceAttempts,
		Clock:             o.clock,
		Logger:            logFor("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order orchestrator: %w", err)
	}
	svc.Orders = orders

	if healthRepo := reg.Health(); healthRepo != nil {
		build := o.build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = o.clock().UTC()
		}
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            o.clock,
			Build:            build,
			CacheTTL:         readinessCacheTTL,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}
