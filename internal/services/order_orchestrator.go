package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

const (
	maxOrderLineItems   = 100
	maxLineQuantity     = 999
	defaultListPageSize = 20
	maxListPageSize     = 100
	orderPlacedNote     = "order placed"
	maxShippingFieldLen = 200
)

var orderTracer = otel.Tracer("github.com/hanko-field/ordercore/internal/services")

// OrderOrchestratorDeps bundles the collaborators required to construct the order orchestrator.
type OrderOrchestratorDeps struct {
	Orders        repositories.OrderRepository
	Products      repositories.ProductRepository
	Carts         repositories.CartRepository
	Sequence      SequenceAllocator
	Inventory     InventoryLedger
	Notifications NotificationQueue
	Sanitizer     TextSanitizer
	// MaxNumberAttempts bounds how often a write-time order number collision re-allocates.
	MaxNumberAttempts int
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type orderOrchestrator struct {
	orders            repositories.OrderRepository
	products          repositories.ProductRepository
	carts             repositories.CartRepository
	sequence          SequenceAllocator
	inventory         InventoryLedger
	notifications     NotificationQueue
	sanitizer         TextSanitizer
	maxNumberAttempts int
	clock             func() time.Time
	newID             func() string
	logger            func(context.Context, string, map[string]any)
}

// NewOrderOrchestrator wires the order core together.
func NewOrderOrchestrator(deps OrderOrchestratorDeps) (OrderOrchestrator, error) {
	if deps.Orders == nil {
		return nil, errors.New("order orchestrator: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order orchestrator: product repository is required")
	}
	if deps.Sequence == nil {
		return nil, errors.New("order orchestrator: sequence allocator is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order orchestrator: inventory ledger is required")
	}

	maxAttempts := deps.MaxNumberAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxSequenceAttempts
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
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

	return &orderOrchestrator{
		orders:            deps.Orders,
		products:          deps.Products,
		carts:             deps.Carts,
		sequence:          deps.Sequence,
		inventory:         deps.Inventory,
		notifications:     deps.Notifications,
		sanitizer:         deps.Sanitizer,
		maxNumberAttempts: maxAttempts,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateOrder validates the submission, reserves stock and persists the order. Stock is restored when
// the order cannot be written.
func (o *orderOrchestrator) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (order domain.Order, err error) {
	ctx, span := orderTracer.Start(ctx, "orders.create", trace.WithAttributes(
		attribute.String("order.actor_kind", string(cmd.Actor.Kind)),
		attribute.Int("order.line_count", len(cmd.Items)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("order.number", order.OrderNumber))
		}
		span.End()
	}()

	draft, err := o.validateCreate(cmd)
	if err != nil {
		return domain.Order{}, err
	}

	lineItems, err := o.resolveLineItems(ctx, cmd.Items)
	if err != nil {
		return domain.Order{}, err
	}
	draft.LineItems = lineItems
	draft.Amounts, err = domain.ComputeAmounts(lineItems, draft.Amounts.TaxPrice, draft.Amounts.ShippingPrice)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	number, err := o.sequence.Allocate(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	stockLines := make([]StockLine, 0, len(lineItems))
	for _, item := range lineItems {
		stockLines = append(stockLines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	reservation, err := o.inventory.ReserveAll(ctx, stockLines)
	if err != nil {
		return domain.Order{}, err
	}

	now := o.clock()
	draft.ID = o.newID()
	draft.OrderNumber = number
	draft.Status = domain.OrderStatusPending
	draft.StatusHistory = []domain.StatusHistoryEntry{{
		Status:    domain.OrderStatusPending,
		Timestamp: now,
		Note:      orderPlacedNote,
	}}
	draft.Payment = domain.PaymentState{Status: domain.PaymentStatusPending}
	draft.CreatedAt = now
	draft.UpdatedAt = now

	if err := o.persist(ctx, &draft); err != nil {
		if releaseErr := o.inventory.Release(ctx, reservation); releaseErr != nil {
			o.logger(ctx, "order.inventory.release_failed", map[string]any{
				"reservationId": reservation.ID,
				"error":         releaseErr.Error(),
			})
		} else {
			o.logger(ctx, "order.inventory.compensated", map[string]any{
				"reservationId": reservation.ID,
				"orderNumber":   draft.OrderNumber,
			})
		}
		return domain.Order{}, err
	}

	if draft.Owner.UserID != "" && o.carts != nil {
		if err := o.carts.Clear(ctx, draft.Owner.UserID); err != nil {
			o.logger(ctx, "order.cart.clear_failed", map[string]any{
				"orderId": draft.ID,
				"userId":  draft.Owner.UserID,
				"error":   err.Error(),
			})
		}
	}

	if o.notifications != nil {
		if err := o.notifications.OrderCreated(ctx, draft); err != nil {
			o.logger(ctx, "order.notification.enqueue_failed", map[string]any{
				"orderId": draft.ID,
				"kind":    "order_created",
				"error":   err.Error(),
			})
		}
	}

	o.logger(ctx, "order.created", map[string]any{
		"orderId":       draft.ID,
		"orderNumber":   draft.OrderNumber,
		"totalPrice":    draft.Amounts.TotalPrice,
		"lineItems":     len(draft.LineItems),
		"guest":         draft.Owner.IsGuest(),
		"reservationId": reservation.ID,
	})
	return draft, nil
}

// persist writes the order, allocating a fresh number whenever the store reports the current one taken.
func (o *orderOrchestrator) persist(ctx context.Context, order *domain.Order) error {
	for attempt := 1; ; attempt++ {
		err := o.orders.Insert(ctx, *order)
		if err == nil {
			return nil
		}
		if !repositories.IsOrderNumberTaken(err) {
			return mapRepositoryError(err)
		}
		o.logger(ctx, "order.sequence.collision", map[string]any{
			"candidate": order.OrderNumber,
			"attempt":   attempt,
			"stage":     "insert",
		})
		if attempt >= o.maxNumberAttempts {
			return fmt.Errorf("%w: order number taken on %d writes", ErrSequenceExhausted, attempt)
		}
		number, allocErr := o.sequence.Allocate(ctx)
		if allocErr != nil {
			return allocErr
		}
		order.OrderNumber = number
	}
}

func (o *orderOrchestrator) validateCreate(cmd CreateOrderCommand) (domain.Order, error) {
	var draft domain.Order

	if len(cmd.Items) == 0 {
		return draft, fmt.Errorf("%w: at least one order item is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) > maxOrderLineItems {
		return draft, fmt.Errorf("%w: at most %d order items are allowed", ErrOrderInvalidInput, maxOrderLineItems)
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return draft, fmt.Errorf("%w: order item %d is missing a product", ErrOrderInvalidInput, i)
		}
		if item.Quantity <= 0 || item.Quantity > maxLineQuantity {
			return draft, fmt.Errorf("%w: order item %d quantity must be between 1 and %d", ErrOrderInvalidInput, i, maxLineQuantity)
		}
	}

	shipping, err := o.cleanShipping(cmd.Shipping)
	if err != nil {
		return draft, err
	}
	draft.Shipping = shipping

	switch {
	case cmd.Actor.IsAuthenticated() && strings.TrimSpace(cmd.GuestEmail) != "":
		return draft, fmt.Errorf("%w: guest email is not accepted from a signed-in buyer", ErrOrderInvalidInput)
	case cmd.Actor.IsAuthenticated():
		draft.Owner = domain.OrderOwner{UserID: strings.TrimSpace(cmd.Actor.ID)}
	default:
		email := strings.TrimSpace(cmd.GuestEmail)
		if email == "" {
			return draft, ErrGuestEmailRequired
		}
		parsed, err := mail.ParseAddress(email)
		if err != nil {
			return draft, fmt.Errorf("%w: guest email is malformed", ErrOrderInvalidInput)
		}
		draft.Owner = domain.OrderOwner{GuestEmail: strings.ToLower(parsed.Address)}
	}

	method, ok := domain.ParsePaymentMethod(cmd.PaymentMethod)
	if !ok {
		return draft, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	draft.PaymentMethod = method

	if cmd.TaxPrice < 0 || cmd.ShippingPrice < 0 || cmd.TaxPrice > domain.MaxAmount || cmd.ShippingPrice > domain.MaxAmount {
		return draft, fmt.Errorf("%w: tax and shipping prices must be between 0 and %d", ErrOrderInvalidInput, domain.MaxAmount)
	}
	draft.Amounts.TaxPrice = cmd.TaxPrice
	draft.Amounts.ShippingPrice = cmd.ShippingPrice
	return draft, nil
}

func (o *orderOrchestrator) cleanShipping(in domain.ShippingSnapshot) (domain.ShippingSnapshot, error) {
	out := domain.ShippingSnapshot{
		FullName:   o.clean(in.FullName),
		Address:    o.clean(in.Address),
		City:       o.clean(in.City),
		State:      o.clean(in.State),
		Country:    o.clean(in.Country),
		PostalCode: o.clean(in.PostalCode),
		Phone:      o.clean(in.Phone),
		Email:      strings.TrimSpace(in.Email),
	}

	var missing []string
	if out.FullName == "" {
		missing = append(missing, "full_name")
	}
	if out.Address == "" {
		missing = append(missing, "address")
	}
	if out.Phone == "" {
		missing = append(missing, "phone")
	}
	if len(missing) > 0 {
		return out, fmt.Errorf("%w: shipping info requires %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}

	for _, field := range []string{out.FullName, out.Address, out.City, out.State, out.Country, out.PostalCode, out.Phone} {
		if len([]rune(field)) > maxShippingFieldLen {
			return out, fmt.Errorf("%w: shipping fields must be at most %d characters", ErrOrderInvalidInput, maxShippingFieldLen)
		}
	}
	if out.Email != "" {
		parsed, err := mail.ParseAddress(out.Email)
		if err != nil {
			return out, fmt.Errorf("%w: shipping email is malformed", ErrOrderInvalidInput)
		}
		out.Email = strings.ToLower(parsed.Address)
	}
	return out, nil
}

// resolveLineItems snapshots name, image and the live price of every requested product.
func (o *orderOrchestrator) resolveLineItems(ctx context.Context, items []CreateOrderItem) ([]domain.OrderLineItem, error) {
	cache := make(map[string]domain.Product, len(items))
	out := make([]domain.OrderLineItem, 0, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		product, ok := cache[productID]
		if !ok {
			found, err := o.products.FindByID(ctx, productID)
			if err != nil {
				if isRepoNotFound(err) {
					return nil, newProductError(ErrProductNotFound, productID)
				}
				return nil, mapRepositoryError(err)
			}
			product = found
			cache[productID] = product
		}
		if product.Price < 0 {
			return nil, fmt.Errorf("%w: product %s has a negative price", ErrOrderInvalidInput, productID)
		}
		out = append(out, domain.OrderLineItem{
			ProductID: productID,
			Name:      product.Name,
			Image:     product.Image,
			UnitPrice: product.Price,
			Quantity:  item.Quantity,
		})
	}
	return out, nil
}

func (o *orderOrchestrator) GetOrder(ctx context.Context, query GetOrderQuery) (domain.Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := o.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}
	if !canReadOrder(query.Actor, order) {
		return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (o *orderOrchestrator) TrackOrder(ctx context.Context, ref string) (domain.OrderTracking, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.OrderTracking{}, fmt.Errorf("%w: order reference is required", ErrOrderInvalidInput)
	}

	var (
		order domain.Order
		err   error
	)
	if LooksLikeOrderNumber(ref) {
		order, err = o.orders.FindByNumber(ctx, strings.ToUpper(ref))
	} else {
		order, err = o.orders.FindByID(ctx, ref)
	}
	if err != nil {
		return domain.OrderTracking{}, mapRepositoryError(err)
	}
	return domain.NewOrderTracking(order), nil
}

func (o *orderOrchestrator) ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[domain.Order], error) {
	filter := repositories.OrderListFilter{
		UserID:     strings.TrimSpace(query.UserID),
		Pagination: query.Pagination,
	}
	if !query.Actor.IsStaff() {
		if !query.Actor.IsAuthenticated() {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: listing orders requires sign in", ErrOrderPermissionDenied)
		}
		filter.UserID = query.Actor.ID
	}
	for _, status := range query.Statuses {
		if !status.IsKnown() {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	switch {
	case filter.Pagination.PageSize <= 0:
		filter.Pagination.PageSize = defaultListPageSize
	case filter.Pagination.PageSize > maxListPageSize:
		filter.Pagination.PageSize = maxListPageSize
	}

	page, err := o.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (o *orderOrchestrator) clean(value string) string {
	value = strings.TrimSpace(value)
	if o.sanitizer != nil {
		value = strings.TrimSpace(o.sanitizer.Sanitize(value))
	}
	return value
}

func canReadOrder(actor domain.Actor, order domain.Order) bool {
	if actor.IsStaff() {
		return true
	}
	return actor.IsAuthenticated() && order.Owner.UserID != "" && order.Owner.UserID == actor.ID
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
