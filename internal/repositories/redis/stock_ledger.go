package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

const (
	defaultKeyPrefix       = "ordercore"
	defaultCompensationTTL = 7 * 24 * time.Hour
)

// Result codes returned by the Lua scripts.
const (
	scriptOK           = 0
	scriptInsufficient = 1
	scriptMissing      = 2
	scriptDuplicate    = 3
)

// luaDecrementAll checks every stock key before decrementing any of them.
// KEYS[i] = stock key, KEYS[n+i] = purchase key, ARGV[i] = quantity.
const luaDecrementAll = `
local n = #ARGV
for i = 1, n do
  local current = redis.call('GET', KEYS[i])
  if not current then
    return {2, i}
  end
  if tonumber(current) < tonumber(ARGV[i]) then
    return {1, i}
  end
end
for i = 1, n do
  redis.call('DECRBY', KEYS[i], ARGV[i])
  redis.call('INCRBY', KEYS[n + i], ARGV[i])
end
return {0, 0}
`

// luaRestoreOnce increments stock at most once per marker key.
// KEYS[1] = marker, KEYS[2] = stock key, KEYS[3] = purchase key, ARGV[1] = quantity, ARGV[2] = marker ttl seconds.
const luaRestoreOnce = `
if redis.call('EXISTS', KEYS[2]) == 0 then
  return 2
end
if redis.call('SETNX', KEYS[1], '1') == 0 then
  return 3
end
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
redis.call('INCRBY', KEYS[2], ARGV[1])
local purchases = redis.call('DECRBY', KEYS[3], ARGV[1])
if purchases < 0 then
  redis.call('SET', KEYS[3], 0)
end
return 0
`

var (
	decrementScript = rd.NewScript(luaDecrementAll)
	restoreScript   = rd.NewScript(luaRestoreOnce)
)

// StockLedger keeps stock counters in Redis and changes them only through Lua scripts, so each
// decrement is a single atomic check-and-set on the server. Every key carries the same hash tag,
// which keeps multi-product scripts inside one Redis Cluster slot.
//
// Redis is the source of record for stock. With a catalog the ledger seeds counters it has not
// seen yet; with a mirror it replays every committed change onto the product documents.
type StockLedger struct {
	client          rd.UniversalClient
	prefix          string
	compensationTTL time.Duration

	catalog       repositories.ProductRepository
	mirror        repositories.StockMirror
	onMirrorError func(ctx context.Context, productID string, err error)
}

var _ repositories.BatchStockRepository = (*StockLedger)(nil)

// Option customises the ledger.
type Option func(*StockLedger)

// WithKeyPrefix namespaces every key the ledger touches.
func WithKeyPrefix(prefix string) Option {
	return func(l *StockLedger) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			l.prefix = trimmed
		}
	}
}

// WithCompensationTTL controls how long restore markers are remembered.
func WithCompensationTTL(ttl time.Duration) Option {
	return func(l *StockLedger) {
		if ttl > 0 {
			l.compensationTTL = ttl
		}
	}
}

// WithCatalog seeds missing counters from the catalog on first use.
func WithCatalog(products repositories.ProductRepository) Option {
	return func(l *StockLedger) { l.catalog = products }
}

// WithMirror replays committed changes onto the catalog. Mirror failures never fail the
// reservation; they are passed to onError when given.
func WithMirror(mirror repositories.StockMirror, onError func(ctx context.Context, productID string, err error)) Option {
	return func(l *StockLedger) {
		l.mirror = mirror
		l.onMirrorError = onError
	}
}

// NewStockLedger constructs a ledger on top of an existing client.
func NewStockLedger(client rd.UniversalClient, opts ...Option) (*StockLedger, error) {
	if client == nil {
		return nil, errors.New("redis stock ledger requires client")
	}
	ledger := &StockLedger{client: client, prefix: defaultKeyPrefix, compensationTTL: defaultCompensationTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(ledger)
		}
	}
	return ledger, nil
}

// Preload copies catalog counters into Redis. Existing counters are left untouched.
func (l *StockLedger) Preload(ctx context.Context, products ...domain.Product) error {
	pipe := l.client.TxPipeline()
	for _, product := range products {
		pipe.SetNX(ctx, l.stockKey(product.ID), product.CountInStock, 0)
		pipe.SetNX(ctx, l.purchaseKey(product.ID), product.PurchaseCount, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis stock preload: %w", err)
	}
	return nil
}

// Available returns the current stock counter of a product.
func (l *StockLedger) Available(ctx context.Context, productID string) (int, error) {
	count, err := l.client.Get(ctx, l.stockKey(productID)).Int()
	if errors.Is(err, rd.Nil) {
		return 0, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, productID, fmt.Sprintf("no stock counter for %s", productID), nil)
	}
	if err != nil {
		return 0, fmt.Errorf("redis stock get: %w", err)
	}
	return count, nil
}

// Ping is used as a readiness probe.
func (l *StockLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// DecrementIfAvailable decrements one product when enough stock remains.
func (l *StockLedger) DecrementIfAvailable(ctx context.Context, line repositories.StockLine) error {
	return l.DecrementAll(ctx, []repositories.StockLine{line})
}

// DecrementAll decrements every line or none of them.
func (l *StockLedger) DecrementAll(ctx context.Context, lines []repositories.StockLine) error {
	if len(lines) == 0 {
		return errors.New("redis stock decrement: lines are required")
	}
	ids := make([]string, 0, len(lines))
	quantities := make(map[string]int, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" || line.Quantity <= 0 {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, productID, fmt.Sprintf("quantity for %q must be > 0", productID), nil)
		}
		if _, seen := quantities[productID]; !seen {
			ids = append(ids, productID)
		}
		quantities[productID] += line.Quantity
	}

	keys := make([]string, 0, 2*len(ids))
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, l.stockKey(id))
		args = append(args, quantities[id])
	}
	for _, id := range ids {
		keys = append(keys, l.purchaseKey(id))
	}

	res, err := l.runDecrement(ctx, keys, args)
	if err == nil && res[0] == scriptMissing && l.catalog != nil {
		if err := l.seed(ctx, ids); err != nil {
			return err
		}
		res, err = l.runDecrement(ctx, keys, args)
	}
	if err != nil {
		return err
	}
	switch res[0] {
	case scriptOK:
		for _, id := range ids {
			l.mirrorChange(ctx, id, -quantities[id])
		}
		return nil
	case scriptInsufficient:
		productID := ids[res[1]-1]
		return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, productID, fmt.Sprintf("insufficient stock for %s", productID), nil)
	case scriptMissing:
		productID := ids[res[1]-1]
		return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, productID, fmt.Sprintf("no stock counter for %s", productID), nil)
	default:
		return fmt.Errorf("redis stock decrement: unexpected script code %d", res[0])
	}
}

func (l *StockLedger) runDecrement(ctx context.Context, keys []string, args []any) ([]int64, error) {
	res, err := decrementScript.Run(ctx, l.client, keys, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis stock decrement: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("redis stock decrement: unexpected script result %v", res)
	}
	return res, nil
}

// seed loads each product from the catalog and sets counters that do not exist yet.
func (l *StockLedger) seed(ctx context.Context, ids []string) error {
	products := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		product, err := l.catalog.FindByID(ctx, id)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, id, fmt.Sprintf("product %s not found", id), err)
			}
			return fmt.Errorf("redis stock seed %s: %w", id, err)
		}
		products = append(products, product)
	}
	return l.Preload(ctx, products...)
}

func (l *StockLedger) mirrorChange(ctx context.Context, productID string, delta int) {
	if l.mirror == nil {
		return
	}
	if err := l.mirror.Increment(ctx, productID, delta); err != nil && l.onMirrorError != nil {
		l.onMirrorError(ctx, productID, err)
	}
}

// Restore adds the quantity back once per reservation and product.
func (l *StockLedger) Restore(ctx context.Context, reservationID string, line repositories.StockLine) error {
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return errors.New("redis stock restore: reservation id is required")
	}
	if line.Quantity <= 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, line.ProductID, fmt.Sprintf("quantity for %s must be > 0", line.ProductID), nil)
	}
	keys := []string{l.compensationKey(reservationID, line.ProductID), l.stockKey(line.ProductID), l.purchaseKey(line.ProductID)}
	code, err := restoreScript.Run(ctx, l.client, keys, line.Quantity, int64(l.compensationTTL/time.Second)).Int()
	if err != nil {
		return fmt.Errorf("redis stock restore: %w", err)
	}
	switch code {
	case scriptMissing:
		return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, line.ProductID, fmt.Sprintf("no stock counter for %s", line.ProductID), nil)
	case scriptOK:
		l.mirrorChange(ctx, line.ProductID, line.Quantity)
	}
	return nil
}

func (l *StockLedger) stockKey(productID string) string {
	return fmt.Sprintf("{%s}:stock:%s", l.prefix, productID)
}

func (l *StockLedger) purchaseKey(productID string) string {
	return fmt.Sprintf("{%s}:purchases:%s", l.prefix, productID)
}

func (l *StockLedger) compensationKey(reservationID, productID string) string {
	return fmt.Sprintf("{%s}:stock:compensated:%s:%s", l.prefix, reservationID, productID)
}
