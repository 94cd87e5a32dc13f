package compensable

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness wires a coordinator to a LocalScheduler and records both handler
// calls and the continuations the state machine resumes.
type harness struct {
	t     *testing.T
	ctx   context.Context
	sched *LocalScheduler
	coord *Coordinator

	calls   []string
	resumed []string
}

func newHarness(t *testing.T, opts ...Option) *harness {
	sched := NewLocalScheduler()
	return &harness{
		t:     t,
		ctx:   context.Background(),
		sched: sched,
		coord: NewCoordinator(sched, opts...),
	}
}

// step returns a handler that records name.
func (h *harness) step(name string) HandlerFunc {
	return func(context.Context, UnitContext) error {
		h.calls = append(h.calls, name)
		return nil
	}
}

// saga returns handlers that record each step under name.
func (h *harness) saga(name string) Handlers {
	return Handlers{
		Body:       h.step("run " + name),
		Confirm:    h.step("confirm " + name),
		Compensate: h.step("compensate " + name),
		Cancel:     h.step("cancel " + name),
	}
}

// wire attaches a recording continuation to the unit's slot for kind.
func (h *harness) wire(u *Unit, kind TriggerKind, name string) Handle {
	hd := h.sched.CreateHandle(func(context.Context, any) {
		h.resumed = append(h.resumed, name)
	})
	u.SetHandle(kind, hd)
	return hd
}

// run schedules and runs a unit to Completed.
func (h *harness) run(parent *Unit, name string) *Unit {
	u, err := h.coord.Schedule(parent, WithHandlers(h.saga(name)))
	require.NoError(h.t, err)
	require.NoError(h.t, h.coord.Run(h.ctx, u))
	require.Equal(h.t, StateCompleted, u.State())
	return u
}

// start schedules and activates a unit without running its body.
func (h *harness) start(parent *Unit, name string) *Unit {
	u, err := h.coord.Schedule(parent, WithHandlers(h.saga(name)))
	require.NoError(h.t, err)
	require.NoError(h.t, h.coord.Activate(h.ctx, u))
	return u
}

// drain runs pending continuations and returns what they recorded.
func (h *harness) drain() []string {
	h.sched.RunPending(h.ctx)
	out := h.resumed
	h.resumed = nil
	return out
}

func TestCompensateAllMostRecentFirst(t *testing.T) {
	h := newHarness(t)

	a := h.run(nil, "A")
	b := h.run(nil, "B")
	h.wire(a, TriggerCompensated, "A compensated")
	h.wire(b, TriggerCompensated, "B compensated")

	require.NoError(t, h.coord.CompensateAll(h.ctx))

	assert.Equal(t, []string{"run A", "run B", "compensate B", "compensate A"}, h.calls)
	assert.Equal(t, []string{"B compensated", "A compensated"}, h.drain())
	assert.Equal(t, StateCompensated, a.State())
	assert.Equal(t, StateCompensated, b.State())
	assert.Zero(t, h.coord.Tracker().Count())
	assert.Zero(t, h.coord.Len(), "terminal units leave the index")

	fired := h.coord.Log().Fired()
	require.Len(t, fired, 2)
	assert.Less(t, fired[0].Occurrence, fired[1].Occurrence)
	assert.Equal(t, b.ID(), fired[0].Unit)
}

func TestConfirmedUnitIsNotRevisited(t *testing.T) {
	h := newHarness(t)

	c := h.run(nil, "C")
	d := h.start(nil, "D")
	h.wire(c, TriggerConfirmed, "C confirmed")
	h.wire(d, TriggerCanceled, "D canceled")
	h.wire(d, TriggerOnCancellation, "D canceling")

	require.NoError(t, h.coord.Confirm(h.ctx, c))
	assert.Equal(t, StateConfirmed, c.State())
	assert.Equal(t, []string{"C confirmed"}, h.drain())

	require.NoError(t, h.coord.CompensateAll(h.ctx))
	assert.Equal(t, StateCanceled, d.State())
	assert.Equal(t, []string{"D canceling", "D canceled"}, h.drain())

	assert.Equal(t, []string{"run C", "confirm C", "cancel D"}, h.calls)
	assert.Len(t, h.coord.Log().ForUnit(c.ID()), 4)
	assert.Zero(t, h.coord.Tracker().Count())

	err := h.coord.Compensate(h.ctx, c)
	assert.ErrorIs(t, err, ErrInvalidOperation, "Confirmed never moves to Compensating")
	assert.Equal(t, StateConfirmed, c.State())
}

func TestConfirmAll(t *testing.T) {
	t.Run("drains in reverse insertion order", func(t *testing.T) {
		h := newHarness(t)
		h.run(nil, "A")
		h.run(nil, "B")
		h.run(nil, "C")

		require.NoError(t, h.coord.ConfirmAll(h.ctx))
		assert.Equal(t, []string{"run A", "run B", "run C", "confirm C", "confirm B", "confirm A"}, h.calls)
		assert.Zero(t, h.coord.Tracker().Count())
	})

	t.Run("stops at an active unit", func(t *testing.T) {
		h := newHarness(t)
		a := h.run(nil, "A")
		b := h.start(nil, "B")

		err := h.coord.ConfirmAll(h.ctx)
		assert.ErrorIs(t, err, ErrInvalidOperation)

		var invalid *InvalidOperationError
		assert.ErrorAs(t, err, &invalid)
		assert.Equal(t, StateActive, b.State())
		assert.Equal(t, StateCompleted, a.State())
		assert.NotContains(t, h.calls, "confirm A", "units behind the active one are not processed")
		assert.Equal(t, 2, h.coord.Tracker().Count(), "a rejected operation changes nothing")
	})
}

func TestInvalidOperationsLeaveStateUnchanged(t *testing.T) {
	h := newHarness(t)
	u := h.start(nil, "U")

	for name, op := range map[string]func(context.Context, *Unit) error{
		"confirm":    h.coord.Confirm,
		"compensate": h.coord.Compensate,
		"activate":   h.coord.Activate,
	} {
		err := op(h.ctx, u)
		assert.ErrorIs(t, err, ErrInvalidOperation, name)
		assert.Equal(t, StateActive, u.State(), name)
	}
	assert.True(t, h.coord.Tracker().Contains(u))
	assert.Empty(t, h.calls)
}

func TestReplacedHandleIsNeverSignaled(t *testing.T) {
	h := newHarness(t)
	u := h.run(nil, "U")

	old := h.wire(u, TriggerCompensated, "old")
	current := h.wire(u, TriggerCompensated, "current")

	require.NoError(t, h.coord.Compensate(h.ctx, u))
	assert.Equal(t, []string{"current"}, h.drain())
	assert.False(t, h.sched.Resolved(old))
	assert.True(t, h.sched.Resolved(current))
}

func TestFatalFaultWhileCompensating(t *testing.T) {
	h := newHarness(t)

	lost := errors.New("ledger unavailable")
	e, err := h.coord.Schedule(nil, WithHandlers(Handlers{
		Compensate: func(context.Context, UnitContext) error {
			return Fatal(lost)
		},
	}))
	require.NoError(t, err)
	require.NoError(t, h.coord.Run(h.ctx, e))

	compensated := h.wire(e, TriggerCompensated, "E compensated")
	h.wire(e, TriggerOnCompensation, "E compensating")

	err = h.coord.Compensate(h.ctx, e)
	assert.ErrorIs(t, err, ErrTerminated)
	assert.ErrorIs(t, err, lost)

	var term *TerminationError
	require.ErrorAs(t, err, &term)
	assert.Equal(t, h.coord.ID(), term.Instance)

	var hErr *HandlerError
	require.ErrorAs(t, err, &hErr)
	assert.Equal(t, e.ID(), hErr.Unit)
	assert.Equal(t, StateCompensating, hErr.State)

	assert.Equal(t, StateCompensating, e.State())
	assert.Empty(t, h.drain(), "outstanding continuations are discarded")
	assert.False(t, h.sched.Resolved(compensated))

	// Every later operation reports the same termination.
	assert.Same(t, term, h.coord.Terminated())
	assert.ErrorIs(t, h.coord.CompensateAll(h.ctx), ErrTerminated)
	assert.ErrorIs(t, h.coord.Compensate(h.ctx, e), ErrTerminated)
	_, err = h.coord.Schedule(nil)
	assert.ErrorIs(t, err, ErrTerminated)
	assert.Same(t, term, h.coord.Abort(errors.New("again")))

	assert.Equal(t, StateCompensating, e.State())
	assert.True(t, h.coord.Tracker().Contains(e))
}

func TestUnhandledFaultAbortsInstance(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("boom")

	u, err := h.coord.Schedule(nil, WithHandlers(Handlers{
		Body: func(context.Context, UnitContext) error { return boom },
	}))
	require.NoError(t, err)

	err = h.coord.Run(h.ctx, u)
	assert.ErrorIs(t, err, ErrTerminated)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateActive, u.State())
	assert.Error(t, h.coord.Terminated())
}

func TestFaultContainedByEnclosingScope(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("boom")

	var offered []string
	root, err := h.coord.Schedule(nil, WithHandlers(Handlers{
		OnFault: func(_ context.Context, _ UnitContext, f *HandlerError) error {
			offered = append(offered, "root")
			return nil
		},
	}))
	require.NoError(t, err)
	require.NoError(t, h.coord.Activate(h.ctx, root))

	middle, err := h.coord.Schedule(root, WithHandlers(Handlers{
		OnFault: func(_ context.Context, _ UnitContext, f *HandlerError) error {
			offered = append(offered, "middle")
			return f
		},
	}))
	require.NoError(t, err)
	require.NoError(t, h.coord.Activate(h.ctx, middle))

	leaf, err := h.coord.Schedule(middle, WithHandlers(Handlers{
		Body: func(context.Context, UnitContext) error { return boom },
	}))
	require.NoError(t, err)

	err = h.coord.Run(h.ctx, leaf)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrTerminated)
	assert.Nil(t, h.coord.Terminated())
	assert.Equal(t, []string{"middle", "root"}, offered)

	assert.Equal(t, StateActive, leaf.State())
	require.NoError(t, h.coord.CompensateAll(h.ctx))
	assert.Equal(t, StateCanceled, leaf.State())
	assert.Equal(t, StateCanceled, middle.State())
	assert.Equal(t, StateCanceled, root.State())
}

func TestChildrenBecomeSecondaryRoots(t *testing.T) {
	h := newHarness(t)

	parent := h.run(nil, "P")
	child := h.run(parent, "child")
	assert.Same(t, parent, child.Parent())
	assert.Equal(t, []*Unit{child}, parent.Children())

	var got Trigger
	hd := h.sched.CreateHandle(func(_ context.Context, payload any) {
		got = payload.(Trigger)
	})
	child.SetHandle(TriggerOnSecondaryRootScheduled, hd)

	require.NoError(t, h.coord.Confirm(h.ctx, parent))
	h.drain()

	assert.Equal(t, TriggerOnSecondaryRootScheduled, got.Kind)
	assert.Equal(t, child.ID(), got.Unit)
	assert.Equal(t, parent.ID(), got.Payload)

	assert.True(t, child.IsSecondaryRoot())
	assert.Nil(t, child.Parent())
	assert.Same(t, parent, child.Origin())
	assert.Equal(t, []*Unit{child}, parent.SecondaryRoots())
	assert.Empty(t, parent.Children())

	_, ok := h.coord.Unit(parent.ID())
	assert.False(t, ok)
	_, ok = h.coord.Unit(child.ID())
	assert.True(t, ok)

	// The secondary root keeps its own lifecycle.
	assert.Equal(t, StateCompleted, child.State())
	require.NoError(t, h.coord.CompensateAll(h.ctx))
	assert.Equal(t, StateCompensated, child.State())
	assert.Equal(t, StateConfirmed, parent.State())
}

func TestScheduleSecondaryRoot(t *testing.T) {
	h := newHarness(t)

	var root *Unit
	origin, err := h.coord.Schedule(nil, WithHandlers(Handlers{
		Body: func(_ context.Context, uc UnitContext) error {
			var err error
			root, err = uc.ScheduleSecondaryRoot(WithHandlers(h.saga("root")))
			return err
		},
	}))
	require.NoError(t, err)
	require.NoError(t, h.coord.Run(h.ctx, origin))

	require.NotNil(t, root)
	assert.True(t, root.IsSecondaryRoot())
	assert.Nil(t, root.Parent())
	assert.Same(t, origin, root.Origin())
	assert.Empty(t, origin.Children())
	assert.Equal(t, StateCreating, root.State())

	_, err = h.coord.ScheduleSecondaryRoot(nil)
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestScheduleUnderTerminalParent(t *testing.T) {
	h := newHarness(t)
	parent := h.run(nil, "P")
	require.NoError(t, h.coord.Compensate(h.ctx, parent))

	_, err := h.coord.Schedule(parent)
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestScheduleDuplicateID(t *testing.T) {
	h := newHarness(t)
	id := NewUnitID()

	_, err := h.coord.Schedule(nil, WithUnitID(id))
	require.NoError(t, err)
	_, err = h.coord.Schedule(nil, WithUnitID(id))
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, err = h.coord.Schedule(nil, WithUnitID(UnitID{}))
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestAtomicUnitRejectsCheckpoints(t *testing.T) {
	store := NewMemoryStore()
	h := newHarness(t, WithStore(store))
	h.sched.SetCheckpointer(h.coord.Checkpoint)

	var bodyErr, compensateErr error
	u, err := h.coord.Schedule(nil, Atomic(), WithHandlers(Handlers{
		Body: func(ctx context.Context, uc UnitContext) error {
			bodyErr = uc.Checkpoint(ctx)
			return nil
		},
		Compensate: func(ctx context.Context, uc UnitContext) error {
			compensateErr = uc.Checkpoint(ctx)
			return nil
		},
	}))
	require.NoError(t, err)
	assert.True(t, u.IsAtomic())

	require.NoError(t, h.coord.Run(h.ctx, u))
	require.NoError(t, bodyErr, "bodies may checkpoint")

	snap, err := store.Load(h.ctx, h.coord.ID().String())
	require.NoError(t, err)
	assert.Equal(t, []UnitID{u.ID()}, snap.Tracker)
	assert.Equal(t, StateActive, snap.Units[0].State, "the checkpoint was taken while the body ran")

	require.NoError(t, h.coord.Compensate(h.ctx, u))
	assert.ErrorIs(t, compensateErr, ErrNoCheckpointZone)
	assert.False(t, h.sched.InNoCheckpointZone(), "the zone closes with the handler")
	assert.Equal(t, StateCompensated, u.State())
}

func TestHandlersResolvedByKind(t *testing.T) {
	reg := NewHandlerRegistry()
	h := newHarness(t, WithRegistry(reg))
	require.NoError(t, reg.Register("reserve", h.saga("reserve")))

	u, err := h.coord.Schedule(nil, WithKind("reserve"))
	require.NoError(t, err)
	require.NoError(t, h.coord.Run(h.ctx, u))
	require.NoError(t, h.coord.Compensate(h.ctx, u))
	assert.Equal(t, []string{"run reserve", "compensate reserve"}, h.calls)

	_, err = h.coord.Schedule(nil, WithKind("unknown"))
	var regErr *RegistryError
	assert.ErrorAs(t, err, &regErr)

	explicit, err := h.coord.Schedule(nil, WithKind("unknown"), WithHandlers(h.saga("explicit")))
	require.NoError(t, err, "explicit handlers skip the registry")
	assert.Equal(t, "unknown", explicit.Kind())
}

func TestContainedFaultRetriedByNextPass(t *testing.T) {
	h := newHarness(t)
	gatewayDown := errors.New("refund gateway timeout")

	contained := 0
	parent, err := h.coord.Schedule(nil, WithHandlers(Handlers{
		Compensate: h.step("compensate parent"),
		OnFault: func(context.Context, UnitContext, *HandlerError) error {
			contained++
			return nil
		},
	}))
	require.NoError(t, err)
	require.NoError(t, h.coord.Run(h.ctx, parent))

	failures := 1
	child, err := h.coord.Schedule(parent, WithHandlers(Handlers{
		Compensate: func(context.Context, UnitContext) error {
			if failures > 0 {
				failures--
				return gatewayDown
			}
			h.calls = append(h.calls, "compensate child")
			return nil
		},
	}))
	require.NoError(t, err)
	require.NoError(t, h.coord.Run(h.ctx, child))
	h.wire(child, TriggerOnCompensation, "child compensating")

	err = h.coord.CompensateAll(h.ctx)
	assert.ErrorIs(t, err, gatewayDown)
	assert.NotErrorIs(t, err, ErrTerminated)
	assert.Equal(t, 1, contained)
	assert.Equal(t, StateCompensating, child.State())
	assert.Equal(t, 2, h.coord.Tracker().Count())

	require.NoError(t, h.coord.CompensateAll(h.ctx))
	assert.Equal(t, StateCompensated, child.State())
	assert.Equal(t, StateCompensated, parent.State())
	assert.Zero(t, h.coord.Tracker().Count())
	assert.Equal(t, []string{"compensate child", "compensate parent"}, h.calls)
	assert.Equal(t, []string{"child compensating"}, h.drain(), "the begin handle fires once")
}

func TestConfirmAllResumesInFlightUnit(t *testing.T) {
	h := newHarness(t)
	flaky := errors.New("flaky")

	scope, err := h.coord.Schedule(nil, WithHandlers(Handlers{
		Confirm: h.step("confirm scope"),
		OnFault: func(context.Context, UnitContext, *HandlerError) error { return nil },
	}))
	require.NoError(t, err)
	require.NoError(t, h.coord.Run(h.ctx, scope))

	failures := 1
	u, err := h.coord.Schedule(scope, WithHandlers(Handlers{
		Confirm: func(context.Context, UnitContext) error {
			if failures > 0 {
				failures--
				return flaky
			}
			h.calls = append(h.calls, "confirm unit")
			return nil
		},
	}))
	require.NoError(t, err)
	require.NoError(t, h.coord.Run(h.ctx, u))

	assert.ErrorIs(t, h.coord.Confirm(h.ctx, u), flaky)
	assert.Equal(t, StateConfirming, u.State())

	require.NoError(t, h.coord.ConfirmAll(h.ctx))
	assert.Equal(t, StateConfirmed, u.State())
	assert.Equal(t, StateConfirmed, scope.State())
	assert.Equal(t, []string{"confirm unit", "confirm scope"}, h.calls)
}

func TestResumeRequiresInFlightUnit(t *testing.T) {
	h := newHarness(t)
	u := h.run(nil, "U")

	err := h.coord.Resume(h.ctx, u)
	assert.ErrorIs(t, err, ErrInvalidOperation)
	assert.Equal(t, StateCompleted, u.State())
}

func TestBodyMaySettleItsOwnUnit(t *testing.T) {
	h := newHarness(t)

	u, err := h.coord.Schedule(nil, WithHandlers(Handlers{
		Body: func(ctx context.Context, uc UnitContext) error {
			return uc.Coordinator.Cancel(ctx, uc.Unit)
		},
		Cancel: h.step("cancel"),
	}))
	require.NoError(t, err)

	require.NoError(t, h.coord.Run(h.ctx, u))
	assert.Equal(t, StateCanceled, u.State())
	assert.Equal(t, []string{"cancel"}, h.calls)
	assert.Zero(t, h.coord.Tracker().Count())
}
