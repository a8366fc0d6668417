package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{codes.NotFound, true, false, false},
		{codes.AlreadyExists, false, true, false},
		{codes.Aborted, false, true, false},
		{codes.FailedPrecondition, false, true, false},
		{codes.Unavailable, false, false, true},
		{codes.ResourceExhausted, false, false, true},
		{codes.PermissionDenied, false, false, false},
	}
	for _, tc := range cases {
		err := WrapError("orders.get", status.Error(tc.code, "boom"))
		var repoErr *Error
		if !errors.As(err, &repoErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification %+v", tc.code, repoErr)
		}
	}
}

func TestWrapErrorPassesCancellationThrough(t *testing.T) {
	if err := WrapError("op", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestWrapErrorKeepsExistingOp(t *testing.T) {
	inner := NotFound("orders.get", "order %s not found", "o1")
	err := WrapError("transaction", inner)
	if err.Error() != "orders.get: order o1 not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if c := Conflict("", "x"); !c.(*Error).IsConflict() {
		t.Fatalf("expected conflict")
	}
}
