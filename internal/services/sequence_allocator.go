package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/hanko-field/ordercore/internal/repositories"
)

const (
	// DefaultOrderNumberPrefix is the leading segment of every order number.
	DefaultOrderNumberPrefix = "ORD"
	// DefaultMaxSequenceAttempts bounds how many candidates are tried before giving up.
	DefaultMaxSequenceAttempts = 10

	orderNumberTimeModulo = 1_000_000
)

var orderNumberPattern = regexp.MustCompile(`^[A-Z]{2,8}-\d{4}-\d{8}$`)

// SequenceAllocatorDeps bundles collaborators required to construct a sequence allocator.
type SequenceAllocatorDeps struct {
	Orders      repositories.OrderRepository
	Prefix      string
	MaxAttempts int
	Clock       func() time.Time
	// Random returns an integer in [0, n).
	Random func(n int) int
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type sequenceAllocator struct {
	orders      repositories.OrderRepository
	prefix      string
	maxAttempts int
	clock       func() time.Time
	random      func(int) int
	logger      func(context.Context, string, map[string]any)
}

// NewSequenceAllocator constructs an allocator producing numbers like ORD-2025-48213107.
func NewSequenceAllocator(deps SequenceAllocatorDeps) (SequenceAllocator, error) {
	if deps.Orders == nil {
		return nil, errors.New("sequence allocator: order repository is required")
	}

	prefix := strings.ToUpper(strings.TrimSpace(deps.Prefix))
	if prefix == "" {
		prefix = DefaultOrderNumberPrefix
	}
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxSequenceAttempts
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	random := deps.Random
	if random == nil {
		random = rand.IntN
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &sequenceAllocator{
		orders:      deps.Orders,
		prefix:      prefix,
		maxAttempts: maxAttempts,
		clock: func() time.Time {
			return clock().UTC()
		},
		random: random,
		logger: logger,
	}, nil
}

// Allocate returns a candidate that no stored order uses yet. The lookup is advisory: the order
// repository enforces uniqueness again when the order is written.
func (a *sequenceAllocator) Allocate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		candidate := formatOrderNumber(a.prefix, a.clock(), a.random(100))
		exists, err := a.orders.NumberExists(ctx, candidate)
		if err != nil {
			return "", mapRepositoryError(err)
		}
		if !exists {
			return candidate, nil
		}
		a.logger(ctx, "order.sequence.collision", map[string]any{
			"candidate": candidate,
			"attempt":   attempt,
		})
	}
	return "", fmt.Errorf("%w: no free order number after %d attempts", ErrSequenceExhausted, a.maxAttempts)
}

func formatOrderNumber(prefix string, now time.Time, random int) string {
	fragment := now.UnixMilli() % orderNumberTimeModulo
	if fragment < 0 {
		fragment = -fragment
	}
	return fmt.Sprintf("%s-%04d-%06d%02d", prefix, now.Year(), fragment, random%100)
}

// LooksLikeOrderNumber reports whether ref has the shape of a human-facing order number.
func LooksLikeOrderNumber(ref string) bool {
	return orderNumberPattern.MatchString(strings.ToUpper(strings.TrimSpace(ref)))
}
