package firestore

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunTransactionRequiresClient(t *testing.T) {
	err := RunTransaction(context.Background(), nil, nil, WithTxLabel("orders.insert"))
	if err == nil {
		t.Fatal("expected error without client")
	}
	if !strings.HasPrefix(err.Error(), "orders.insert: ") {
		t.Fatalf("expected label in error, got %q", err.Error())
	}
}

func TestTxOptionsIgnoreInvalidValues(t *testing.T) {
	settings := txSettings{label: defaultTxLabel, attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range []TxOption{WithTxLabel(""), WithTxAttempts(0), WithTxTimeout(-time.Second)} {
		opt(&settings)
	}
	if settings.label != defaultTxLabel || settings.attempts != defaultTxAttempts || settings.timeout != defaultTxTimeout {
		t.Fatalf("expected defaults to survive invalid options, got %+v", settings)
	}

	WithTxLabel("notifications.claim")(&settings)
	WithTxAttempts(2)(&settings)
	WithTxTimeout(time.Second)(&settings)
	if settings.label != "notifications.claim" || settings.attempts != 2 || settings.timeout != time.Second {
		t.Fatalf("unexpected settings %+v", settings)
	}
}
