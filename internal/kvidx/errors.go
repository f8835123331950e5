package kvidx

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a requested key was not found
	ErrNotFound = errors.New("key not found")

	// ErrDuplicateKey indicates that an insert targeted a key that already exists
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConditionFailed indicates that a conditional write's predicate did not hold
	ErrConditionFailed = errors.New("condition failed")

	// ErrInvalidArgument indicates a malformed or out-of-domain argument
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotSupported indicates that the operation is not supported by this
	// adapter or format
	ErrNotSupported = errors.New("operation not supported")

	// ErrCancelled indicates that an export or import was aborted by its
	// progress callback
	ErrCancelled = errors.New("operation cancelled")

	// ErrClosed indicates use of a handle after Close
	ErrClosed = errors.New("database is closed")

	// ErrCorrupt indicates that stored or imported data failed validation
	ErrCorrupt = errors.New("data corruption detected")
)

// OpError wraps a storage engine failure with the operation and adapter it
// occurred on.
type OpError struct {
	Op      string // The operation that failed
	Adapter string // The adapter name
	Err     error  // The underlying error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("kvidx %s error on adapter %s: %v", e.Op, e.Adapter, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target error.
func (e *OpError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNotFound checks if an error indicates that a key was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateKey checks if an error indicates a duplicate-key insert.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// IsConditionFailed checks if an error indicates a failed write condition.
func IsConditionFailed(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}

// IsCancelled checks if an error indicates a callback-aborted operation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// wrapOp wraps an engine error with operation context. Returns nil on nil.
func wrapOp(err error, op, adapter string) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Adapter: adapter, Err: err}
}
