package firestore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
	defaultTxLabel    = "transaction"
)

// TxFunc is executed within a Firestore transaction. It may run more than once,
// so it must not have side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises a single RunTransaction call.
type TxOption func(*txSettings)

type txSettings struct {
	label    string
	attempts int
	timeout  time.Duration
}

// WithTxLabel names the operation in returned errors, e.g. "orders.create".
func WithTxLabel(label string) TxOption {
	return func(s *txSettings) {
		if label != "" {
			s.label = label
		}
	}
}

// WithTxAttempts caps how often Firestore retries on contention.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the transaction when the caller's context allows longer.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// RunTransaction runs fn on client and classifies the outcome with WrapError.
// When contention exhausted the retries the error reports how many runs were made.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	settings := txSettings{label: defaultTxLabel, attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	if client == nil || fn == nil {
		return WrapError(settings.label, errors.New("firestore: client and transaction function are required"))
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > settings.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.timeout)
		defer cancel()
	}

	var runs atomic.Int32
	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		runs.Add(1)
		return fn(ctx, tx)
	}, firestore.MaxAttempts(settings.attempts))
	if err == nil {
		return nil
	}

	wrapped := WrapError(settings.label, err)
	var classified *Error
	if n := int(runs.Load()); n > 1 && errors.As(wrapped, &classified) && classified.IsConflict() {
		return &Error{op: settings.label, kind: kindConflict, err: fmt.Errorf("gave up after %d runs: %w", n, err)}
	}
	return wrapped
}
