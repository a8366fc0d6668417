package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorKind int

const (
	kindOther errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// Error implements repositories.RepositoryError for Firestore backed repositories.
type Error struct {
	op   string
	err  error
	kind errorKind
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

func classify(code codes.Code) errorKind {
	switch code {
	case codes.NotFound:
		return kindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return kindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return kindUnavailable
	default:
		return kindOther
	}
}

// WrapError annotates Firestore errors with repository semantics. Context cancellations pass through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}
	return &Error{op: op, err: err, kind: classify(status.Code(err))}
}

// NotFound builds a not-found repository error without a gRPC status.
func NotFound(op, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), kind: kindNotFound}
}

// Conflict builds a conflict repository error without a gRPC status.
func Conflict(op, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), kind: kindConflict}
}

// IsNotFoundStatus reports whether err carries the gRPC NotFound code.
func IsNotFoundStatus(err error) bool {
	return status.Code(err) == codes.NotFound
}

// IsAlreadyExistsStatus reports whether err carries the gRPC AlreadyExists code.
func IsAlreadyExistsStatus(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}

func isIteratorDone(err error) bool {
	return errors.Is(err, iterator.Done)
}
