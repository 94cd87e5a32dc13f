package compensable

import (
	"context"
)

// Continuation is the work a host parks on a resumption handle. It runs when
// the handle is signaled and receives the signal's payload.
type Continuation func(ctx context.Context, payload any)

// Signaler delivers signals to resumption handles.
type Signaler interface {
	// Signal resolves h with payload. It reports false, and does nothing,
	// when h is unknown, already resolved or discarded.
	Signal(h Handle, payload any) bool
}

// Scheduler is the host capability the compensation core runs against.
type Scheduler interface {
	Signaler

	// CreateHandle returns a new handle bound to cont. cont may be nil when
	// the handle is only ever waited on with Suspend.
	CreateHandle(cont Continuation) Handle

	// Suspend blocks the calling execution path until h is signaled or ctx
	// is done, and returns the signal's payload.
	Suspend(ctx context.Context, h Handle) (any, error)

	// RequestDurableCheckpoint asks the host to take a durable checkpoint and
	// call onComplete once it is done.
	RequestDurableCheckpoint(ctx context.Context, onComplete func()) error

	// InNoCheckpointZone reports whether the current execution context
	// forbids checkpoints.
	InNoCheckpointZone() bool
}

// ZoneController is implemented by schedulers that let the core open
// no-checkpoint zones, used for atomic units.
type ZoneController interface {
	EnterNoCheckpointZone()
	ExitNoCheckpointZone()
}

// Discarder is implemented by schedulers that can drop every outstanding
// continuation when an instance is aborted.
type Discarder interface {
	Discard()
}

// Releaser is implemented by schedulers that can forget a handle nothing will
// signal or wait on again.
type Releaser interface {
	Release(h Handle)
}

// release forgets h if s supports it.
func release(s Scheduler, h Handle) {
	if r, ok := s.(Releaser); ok {
		r.Release(h)
	}
}
