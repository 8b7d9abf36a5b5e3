package core

import (
	"context"
	"errors"
)

var (
	// ErrValidation covers malformed containers, corrupt indices, invalid
	// virtual/relative paths, unknown asset types and size/hash mismatches.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidRequest covers null/zero destinations, out-of-bounds
	// subresources and unsupported formats.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrProducerFailed signals a user byte producer that returned false.
	ErrProducerFailed = errors.New("producer failed")
	// ErrExhausted covers full staging memory, full channels and failed
	// descriptor allocations.
	ErrExhausted = errors.New("resource exhausted")
	// ErrCanceled signals a canceled job or sub-operation.
	ErrCanceled = errors.New("canceled")
	// ErrNotReady covers submissions against a service that is shutting
	// down or a subsystem that is not running.
	ErrNotReady = errors.New("subsystem not ready")
	ErrUnknown  = errors.New("unknown")
)

// IsCanceled reports whether err stems from cooperative cancellation,
// either ours or the context package's.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}
