package compensable

import (
	"context"
)

// HandlerFunc is the body of one lifecycle step of a unit.
type HandlerFunc func(ctx context.Context, uc UnitContext) error

// FaultFunc is offered the faults of descendant units. Returning nil contains
// the fault in this scope; returning an error passes it further up.
type FaultFunc func(ctx context.Context, uc UnitContext, fault *HandlerError) error

// Handlers bundles the functions that run for a unit. Any of them may be nil,
// in which case the corresponding step completes immediately.
type Handlers struct {
	Body       HandlerFunc
	Confirm    HandlerFunc
	Compensate HandlerFunc
	Cancel     HandlerFunc
	OnFault    FaultFunc
}

// NoOp is a HandlerFunc that does nothing.
func NoOp(_ context.Context, _ UnitContext) error {
	return nil
}

// NewHandlers constructs Handlers from a body and its compensation.
func NewHandlers(body, compensate HandlerFunc) Handlers {
	return Handlers{Body: body, Compensate: compensate}
}

// forState returns the handler that runs while a unit is in the given in-flight state.
func (h Handlers) forState(s State) HandlerFunc {
	switch s {
	case StateActive:
		return h.Body
	case StateConfirming:
		return h.Confirm
	case StateCompensating:
		return h.Compensate
	case StateCanceling:
		return h.Cancel
	}
	return nil
}

// UnitContext gives a running handler access to its unit and coordinator.
type UnitContext struct {
	Unit        *Unit
	Coordinator *Coordinator
}

// Checkpoint requests a durable checkpoint and suspends until it completes.
func (uc UnitContext) Checkpoint(ctx context.Context) error {
	return uc.Coordinator.RequestCheckpoint(ctx)
}

// ScheduleChild creates a unit nested in the handler's unit.
func (uc UnitContext) ScheduleChild(opts ...UnitOption) (*Unit, error) {
	return uc.Coordinator.Schedule(uc.Unit, opts...)
}

// ScheduleSecondaryRoot creates a top-level unit that outlives the handler's unit.
func (uc UnitContext) ScheduleSecondaryRoot(opts ...UnitOption) (*Unit, error) {
	return uc.Coordinator.ScheduleSecondaryRoot(uc.Unit, opts...)
}
