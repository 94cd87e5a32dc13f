package compensable

import (
	"fmt"
	"sync"
)

// Unit is one compensable scope of work: a saga participant that, once
// completed, is either confirmed (kept) or compensated (undone).
//
// A unit's state is only ever changed by its Coordinator. Hosts wire their
// continuations through SetHandle.
type Unit struct {
	mu sync.Mutex

	id       UnitID
	kind     string
	atomic   bool
	state    State
	handlers Handlers
	resolved bool
	handles  HandleTable

	parent         *Unit
	children       []*Unit
	origin         *Unit
	secondaryRoot  bool
	secondaryRoots []*Unit

	deadline Handle
}

// UnitOption configures a unit at scheduling time.
type UnitOption func(*Unit)

// WithKind names the handler kind of the unit. If no handlers are given
// explicitly they are resolved from the coordinator's registry.
func WithKind(kind string) UnitOption {
	return func(u *Unit) {
		u.kind = kind
	}
}

// WithHandlers sets the unit's handlers.
func WithHandlers(h Handlers) UnitOption {
	return func(u *Unit) {
		u.handlers = h
		u.resolved = true
	}
}

// WithUnitID fixes the unit's identifier instead of generating one.
func WithUnitID(id UnitID) UnitOption {
	return func(u *Unit) {
		u.id = id
	}
}

// Atomic makes the unit's confirm, compensate and cancel handlers run inside a
// no-checkpoint zone.
func Atomic() UnitOption {
	return func(u *Unit) {
		u.atomic = true
	}
}

func newUnit(opts ...UnitOption) *Unit {
	u := &Unit{
		id:    NewUnitID(),
		state: StateCreating,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// ID returns the unit's identifier.
func (u *Unit) ID() UnitID {
	return u.id
}

// Kind returns the unit's handler kind, if any.
func (u *Unit) Kind() string {
	return u.kind
}

// IsAtomic reports whether the unit's outcome handlers forbid checkpoints.
func (u *Unit) IsAtomic() bool {
	return u.atomic
}

// State returns the unit's current state.
func (u *Unit) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.state
}

// Parent returns the enclosing unit, or nil for a root or secondary root.
func (u *Unit) Parent() *Unit {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.parent
}

// IsSecondaryRoot reports whether the unit was detached from its parent's lifecycle.
func (u *Unit) IsSecondaryRoot() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.secondaryRoot
}

// Origin returns the unit a secondary root was detached from.
func (u *Unit) Origin() *Unit {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.origin
}

// Children returns the nested units still attached to u.
func (u *Unit) Children() []*Unit {
	u.mu.Lock()
	defer u.mu.Unlock()

	return append([]*Unit(nil), u.children...)
}

// SecondaryRoots returns the units detached from u.
func (u *Unit) SecondaryRoots() []*Unit {
	u.mu.Lock()
	defer u.mu.Unlock()

	return append([]*Unit(nil), u.secondaryRoots...)
}

// Handle returns the handle wired to kind, if any.
func (u *Unit) Handle(kind TriggerKind) (Handle, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.handles.Get(kind)
}

// SetHandle wires h to kind, replacing any previous handle. A replaced handle
// is never signaled by the state machine.
func (u *Unit) SetHandle(kind TriggerKind, h Handle) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.handles.Set(kind, h)
}

// Handles returns a copy of the unit's handle table.
func (u *Unit) Handles() HandleTable {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.handles
}

// String implements the fmt.Stringer interface for Unit.
func (u *Unit) String() string {
	if u.kind == "" {
		return fmt.Sprintf("unit %s (%s)", u.id, u.State())
	}
	return fmt.Sprintf("unit %s[%s] (%s)", u.id, u.kind, u.State())
}

// advance applies ev to the unit's state and returns the recorded transition.
func (u *Unit) advance(ev Event) (Transition, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	to, err := u.state.next(ev)
	if err != nil {
		return Transition{}, err
	}
	t := Transition{Unit: u.id, Event: ev, From: u.state, To: to}
	u.state = to
	return t, nil
}

func (u *Unit) addChild(child *Unit) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state.Terminal() {
		return fmt.Errorf("parent is %s", u.state)
	}
	u.children = append(u.children, child)
	return nil
}

func (u *Unit) addSecondaryRoot(root *Unit) {
	u.mu.Lock()
	u.secondaryRoots = append(u.secondaryRoots, root)
	u.mu.Unlock()

	root.mu.Lock()
	root.parent = nil
	root.origin = u
	root.secondaryRoot = true
	root.mu.Unlock()
}

// detachChildren removes and returns the children that have not yet reached
// a terminal state.
func (u *Unit) detachChildren() []*Unit {
	u.mu.Lock()
	children := u.children
	u.children = nil
	u.mu.Unlock()

	var live []*Unit
	for _, c := range children {
		if !c.State().Terminal() {
			live = append(live, c)
		}
	}
	return live
}

func (u *Unit) setDeadline(h Handle) Handle {
	u.mu.Lock()
	defer u.mu.Unlock()

	prev := u.deadline
	u.deadline = h
	return prev
}

// Deadline returns the handle of the unit's escalation timer, if one is armed.
func (u *Unit) Deadline() (Handle, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.deadline, !u.deadline.IsZero()
}

func (u *Unit) takeDeadline() Handle {
	return u.setDeadline(Handle{})
}
