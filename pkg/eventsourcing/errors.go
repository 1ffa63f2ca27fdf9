package eventsourcing

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable is returned when the underlying storage cannot
	// be reached or a write fails. Callers must treat the append as not
	// recorded: no partial effects are possible.
	ErrStoreUnavailable = errors.New("event store unavailable")

	// ErrNoSuchProcessor is returned when a named processor is not
	// registered with the pipeline.
	ErrNoSuchProcessor = errors.New("processor not registered")
)

// StoreError wraps a storage failure with the operation that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("event store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// NewStoreError wraps err as a store unavailability failure.
func NewStoreError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
