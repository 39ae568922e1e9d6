package gsplat

import (
	"errors"
	"fmt"

	"github.com/gekko3d/gsplat/splatrt/rt/stream"
)

var (
	// ErrCancelled is the outcome of a cancelled load. It marks a terminal
	// state rather than a failure.
	ErrCancelled = stream.ErrCancelled

	ErrDestroyed  = errors.New("gsplat: surface destroyed")
	ErrLoadActive = errors.New("gsplat: a load is already in progress")
	ErrNoCapacity = errors.New("gsplat: capacity not known yet")
)

// TransportError wraps a failure of the byte source feeding a load. Slots
// committed before the failure stay valid.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gsplat: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
