package compensable

import (
	"fmt"

	"github.com/google/uuid"
)

// UnitID uniquely identifies a compensable unit.
type UnitID uuid.UUID

// NewUnitID returns a fresh random UnitID.
func NewUnitID() UnitID {
	return UnitID(uuid.New())
}

// ParseUnitID parses the canonical string form of a UnitID.
func ParseUnitID(s string) (UnitID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UnitID{}, fmt.Errorf("invalid unit id %q: %w", s, err)
	}
	return UnitID(id), nil
}

// String returns the string representation of the UnitID.
func (id UnitID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero UnitID.
func (id UnitID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalText implements encoding.TextMarshaler.
func (id UnitID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *UnitID) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*id = UnitID(u)
	return nil
}

// Handle is an opaque resumption handle. The zero Handle means "no handle".
//
// A Handle is only a reference: which continuation it resumes is owned by the
// Scheduler that created (or re-bound) it.
type Handle uuid.UUID

// NewHandle returns a fresh random Handle.
func NewHandle() Handle {
	return Handle(uuid.New())
}

// ParseHandle parses the canonical string form of a Handle.
func ParseHandle(s string) (Handle, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Handle{}, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	return Handle(id), nil
}

// String returns the string representation of the Handle.
func (h Handle) String() string {
	return uuid.UUID(h).String()
}

// IsZero reports whether h is the empty handle.
func (h Handle) IsZero() bool {
	return uuid.UUID(h) == uuid.Nil
}

// MarshalText implements encoding.TextMarshaler.
func (h Handle) MarshalText() ([]byte, error) {
	return uuid.UUID(h).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Handle) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*h = Handle(u)
	return nil
}
