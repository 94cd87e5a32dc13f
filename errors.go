package compensable

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidOperation is matched by every precondition violation.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrTerminated is matched by the termination signal of an aborted instance.
	ErrTerminated = errors.New("workflow instance terminated")

	// ErrNoCheckpointZone is returned when a checkpoint is requested inside a
	// no-checkpoint zone.
	ErrNoCheckpointZone = InvalidOperation("checkpoint requested inside a no-checkpoint zone")

	// ErrSnapshotNotFound is returned by stores when no snapshot has the given ID.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrUnknownHandle is returned when suspending on a handle the scheduler
	// does not know.
	ErrUnknownHandle = errors.New("unknown handle")
)

// InvalidOperationError reports a violated precondition. It never changes
// tracker or unit state.
type InvalidOperationError struct {
	error
}

// InvalidOperation builds an InvalidOperationError from a message.
func InvalidOperation(message string) error {
	return &InvalidOperationError{fmt.Errorf("%w: %s", ErrInvalidOperation, message)}
}

// invalidTransition reports an operation that does not apply to the unit's state.
func invalidTransition(op string, u *Unit, cause error) error {
	return &InvalidOperationError{fmt.Errorf("%w: %s unit %s: %w", ErrInvalidOperation, op, u.ID(), cause)}
}

// Unwrap returns the wrapped error.
func (e *InvalidOperationError) Unwrap() error {
	return e.error
}

// HandlerError is a fault raised by one of a unit's handlers.
type HandlerError struct {
	Unit  UnitID
	State State // the state the unit was in while the handler ran
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("unit %s: handler failed while %s: %v", e.Unit, e.State, e.Err)
}

// Unwrap returns the handler's own error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// HandlerFailed wraps the error of a handler that ran while unit id was in state s.
func HandlerFailed(id UnitID, s State, err error) *HandlerError {
	return &HandlerError{Unit: id, State: s, Err: err}
}

// TerminationError is the unrecoverable-abort signal of a workflow instance.
// It is distinct from compensation: no unit transitions after it is raised.
type TerminationError struct {
	Instance uuid.UUID
	Cause    error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("instance %s terminated: %v", e.Instance, e.Cause)
}

// Unwrap returns the cause of the termination.
func (e *TerminationError) Unwrap() error {
	return e.Cause
}

// Is makes every TerminationError match ErrTerminated.
func (e *TerminationError) Is(target error) bool {
	return target == ErrTerminated
}

// Fatal marks err as unrecoverable. A handler returning a Fatal error aborts
// the instance without offering the fault to enclosing scopes.
func Fatal(err error) error {
	return &fatalError{err}
}

type fatalError struct {
	error
}

func (e *fatalError) Unwrap() error {
	return e.error
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// RegistryError represents an error returned from HandlerRegistry.Get().
type RegistryError struct {
	error
}

// NotFoundError indicates that no handlers were registered under kind.
func NotFoundError(kind string) error {
	return &RegistryError{fmt.Errorf("no handlers registered for kind %q", kind)}
}
