package memory

import "fmt"

// Error implements repositories.RepositoryError for the in-memory backend.
type Error struct {
	op       string
	message  string
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.op, e.message)
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) *Error {
	return &Error{op: op, message: fmt.Sprintf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) *Error {
	return &Error{op: op, message: fmt.Sprintf(format, args...), conflict: true}
}
