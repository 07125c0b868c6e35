package transcript

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("version conflict")
	ErrAlreadyExists   = errors.New("conversation already exists")
	ErrInvalidInput    = errors.New("invalid input")
)

// StoreError is a read or write failure in the persistence layer.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a persistence failure rather than a domain outcome.
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// ErrorKind classifies an error for logging at the boundary.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindNotFound        ErrorKind = "not_found"
	KindConflict        ErrorKind = "conflict"
	KindAlreadyExists   ErrorKind = "already_exists"
	KindInvalidInput    ErrorKind = "invalid_input"
	KindStoreFailure    ErrorKind = "store_failure"
	KindUnknown         ErrorKind = "unknown"
)

// Kind maps err onto the error taxonomy.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case IsTransient(err):
		return KindStoreFailure
	default:
		return KindUnknown
	}
}
