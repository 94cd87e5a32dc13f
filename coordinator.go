package compensable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortressi/compensable/internal/logging"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Coordinator runs the compensation state machine of one workflow instance.
//
// It owns the execution tracker and the index of live units, fires each
// unit's resumption handles as the unit moves through its lifecycle and turns
// unhandled handler faults into the termination of the whole instance.
type Coordinator struct {
	id        uuid.UUID
	sched     Scheduler
	timers    TimerService
	registry  *HandlerRegistry
	store     Store
	tracker   *Tracker
	units     *xsync.MapOf[UnitID, *Unit]
	log       *TransitionLog
	logger    *slog.Logger
	metrics   *Metrics
	persister *Persister

	escalation time.Duration

	occurrence atomic.Uint64

	mu         sync.Mutex
	terminated *TerminationError
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithInstanceID sets the workflow instance identifier. It doubles as the
// snapshot ID.
func WithInstanceID(id uuid.UUID) Option {
	return func(c *Coordinator) {
		c.id = id
	}
}

// WithTimers sets the timer service used for escalation deadlines.
func WithTimers(t TimerService) Option {
	return func(c *Coordinator) {
		c.timers = t
	}
}

// WithRegistry sets the registry units resolve their handlers from by kind.
func WithRegistry(r *HandlerRegistry) Option {
	return func(c *Coordinator) {
		c.registry = r
	}
}

// WithStore sets the store Checkpoint saves snapshots to.
func WithStore(s Store) Option {
	return func(c *Coordinator) {
		c.store = s
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithMetrics sets the prometheus collectors to update.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithEscalationTimeout arms a deadline of d on every unit as it completes.
// It requires a timer service.
func WithEscalationTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.escalation = d
	}
}

// NewCoordinator creates a Coordinator running against sched.
func NewCoordinator(sched Scheduler, opts ...Option) *Coordinator {
	c := &Coordinator{
		id:      uuid.New(),
		sched:   sched,
		tracker: NewTracker(),
		units:   xsync.NewMapOf[UnitID, *Unit](),
		log:     NewTransitionLog(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.persister = NewPersister(sched, c.metrics)
	return c
}

// ID returns the workflow instance identifier.
func (c *Coordinator) ID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.id
}

// Tracker returns the execution tracker.
func (c *Coordinator) Tracker() *Tracker {
	return c.tracker
}

// Log returns the transition log.
func (c *Coordinator) Log() *TransitionLog {
	return c.log
}

// Unit looks up a live unit by identifier.
func (c *Coordinator) Unit(id UnitID) (*Unit, bool) {
	return c.units.Load(id)
}

// Len returns the number of live (non-terminal) units.
func (c *Coordinator) Len() int {
	return c.units.Size()
}

// Terminated returns the termination signal if the instance was aborted.
func (c *Coordinator) Terminated() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminated == nil {
		return nil
	}
	return c.terminated
}

func (c *Coordinator) checkTerminated() error {
	return c.Terminated()
}

// Schedule creates a unit in StateCreating, nested in parent when parent is
// not nil.
func (c *Coordinator) Schedule(parent *Unit, opts ...UnitOption) (*Unit, error) {
	if err := c.checkTerminated(); err != nil {
		return nil, err
	}
	u, err := c.newUnit(opts...)
	if err != nil {
		return nil, err
	}
	if parent != nil {
		u.parent = parent
		if err := parent.addChild(u); err != nil {
			return nil, invalidTransition("schedule child of", parent, err)
		}
	}
	c.units.Store(u.ID(), u)

	c.logger.Info("unit scheduled", "unit", u.ID().String(), "kind", u.Kind(), "nested", parent != nil)
	return u, nil
}

// ScheduleSecondaryRoot creates a top-level unit that is detached from the
// lifecycle of origin from the start.
func (c *Coordinator) ScheduleSecondaryRoot(origin *Unit, opts ...UnitOption) (*Unit, error) {
	if err := c.checkTerminated(); err != nil {
		return nil, err
	}
	if origin == nil {
		return nil, InvalidOperation("secondary root needs an origin unit")
	}
	u, err := c.newUnit(opts...)
	if err != nil {
		return nil, err
	}
	origin.addSecondaryRoot(u)
	c.units.Store(u.ID(), u)

	c.logger.Info("secondary root scheduled", "unit", u.ID().String(), "origin", origin.ID().String())
	return u, nil
}

func (c *Coordinator) newUnit(opts ...UnitOption) (*Unit, error) {
	u := newUnit(opts...)
	if u.id.IsZero() {
		return nil, InvalidOperation("unit id must not be zero")
	}
	if _, ok := c.units.Load(u.id); ok {
		return nil, InvalidOperation(fmt.Sprintf("unit %s already exists", u.id))
	}
	if u.kind != "" && !u.resolved {
		h, err := c.resolveHandlers(u.kind)
		if err != nil {
			return nil, err
		}
		u.handlers = h
		u.resolved = true
	}
	return u, nil
}

func (c *Coordinator) resolveHandlers(kind string) (Handlers, error) {
	if c.registry == nil {
		return Handlers{}, NotFoundError(kind)
	}
	return c.registry.Get(kind)
}

// Activate moves u from Creating to Active and starts tracking it.
func (c *Coordinator) Activate(ctx context.Context, u *Unit) error {
	if err := c.transition(ctx, u, EventActivate, "activate"); err != nil {
		return err
	}
	c.tracker.Add(u)
	c.metrics.tracked(c.tracker.Count())
	return nil
}

// Complete moves u from Active to Completed. The unit stays tracked until it
// is confirmed, compensated or canceled.
func (c *Coordinator) Complete(ctx context.Context, u *Unit) error {
	if err := c.transition(ctx, u, EventComplete, "complete"); err != nil {
		return err
	}
	if c.escalation > 0 && c.timers != nil {
		if _, err := c.EscalateAfter(ctx, u, c.escalation); err != nil {
			c.logger.WarnContext(ctx, "failed to arm deadline", "unit", u.ID().String(), "error", err)
		}
	}
	return nil
}

// Run activates u, runs its body and completes it.
func (c *Coordinator) Run(ctx context.Context, u *Unit) error {
	if err := c.Activate(ctx, u); err != nil {
		return err
	}
	if body := u.handlers.Body; body != nil {
		if err := c.runHandler(ctx, u, body, false); err != nil {
			return c.fault(ctx, u, StateActive, err)
		}
	}
	if err := c.checkTerminated(); err != nil {
		return err
	}
	// The body may have settled its own unit, e.g. by canceling it.
	if u.State() != StateActive {
		return nil
	}
	return c.Complete(ctx, u)
}

type outcome struct {
	op       string
	begin    Event
	end      Event
	onKind   TriggerKind
	doneKind TriggerKind
}

var (
	confirmOutcome    = outcome{"confirm", EventConfirm, EventConfirmed, TriggerOnConfirmation, TriggerConfirmed}
	compensateOutcome = outcome{"compensate", EventCompensate, EventCompensated, TriggerOnCompensation, TriggerCompensated}
	cancelOutcome     = outcome{"cancel", EventCancel, EventCanceled, TriggerOnCancellation, TriggerCanceled}
)

// Confirm keeps the work of a completed unit.
func (c *Coordinator) Confirm(ctx context.Context, u *Unit) error {
	return c.settle(ctx, u, confirmOutcome)
}

// Compensate undoes the work of a completed unit.
func (c *Coordinator) Compensate(ctx context.Context, u *Unit) error {
	return c.settle(ctx, u, compensateOutcome)
}

// Cancel stops an active unit, or discards a completed one.
func (c *Coordinator) Cancel(ctx context.Context, u *Unit) error {
	return c.settle(ctx, u, cancelOutcome)
}

func (c *Coordinator) settle(ctx context.Context, u *Unit, o outcome) error {
	if err := c.transition(ctx, u, o.begin, o.op); err != nil {
		return err
	}
	c.fire(u, o.onKind, nil)
	return c.finish(ctx, u, o)
}

// Resume finishes an outcome whose handler did not run to completion: a unit
// restored from a checkpoint taken inside its confirm, compensate or cancel
// handler, or one whose handler fault was contained by an enclosing scope.
// The handler runs again from the start; its OnConfirmation,
// OnCompensation or OnCancellation handle is not fired a second time.
func (c *Coordinator) Resume(ctx context.Context, u *Unit) error {
	if err := c.checkTerminated(); err != nil {
		return err
	}
	s := u.State()
	o, ok := inFlight(s)
	if !ok {
		return invalidTransition("resume", u, fmt.Errorf("unit is %s", s))
	}
	c.logger.InfoContext(ctx, "resuming unit", "unit", u.ID().String(), "state", s.String())
	return c.finish(ctx, u, o)
}

// inFlight returns the outcome a unit in state s is in the middle of.
func inFlight(s State) (outcome, bool) {
	switch s {
	case StateConfirming:
		return confirmOutcome, true
	case StateCompensating:
		return compensateOutcome, true
	case StateCanceling:
		return cancelOutcome, true
	}
	return outcome{}, false
}

// finish runs the handler of the in-flight state and moves u to its terminal state.
func (c *Coordinator) finish(ctx context.Context, u *Unit, o outcome) error {
	state := u.State()
	if h := u.handlers.forState(state); h != nil {
		if err := c.runHandler(ctx, u, h, u.IsAtomic()); err != nil {
			return c.fault(ctx, u, state, err)
		}
	}
	// An abort raised while the handler ran freezes the unit where it is.
	if err := c.checkTerminated(); err != nil {
		return err
	}

	if err := c.transition(ctx, u, o.end, o.op); err != nil {
		return err
	}
	c.fire(u, o.doneKind, nil)
	c.retire(u)
	return nil
}

// ConfirmAll confirms tracked units most-recent-first until the tracker is
// empty. A front unit already in the middle of an outcome is resumed first.
// The pass stops at the first unit that is neither Completed nor in flight
// and returns an InvalidOperationError; no unit behind it is processed.
func (c *Coordinator) ConfirmAll(ctx context.Context) error {
	for {
		if err := c.checkTerminated(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		u, ok := c.tracker.Get()
		if !ok {
			return nil
		}
		var err error
		switch s := u.State(); {
		case s == StateCompleted:
			err = c.Confirm(ctx, u)
		case isInFlight(s):
			err = c.Resume(ctx, u)
		default:
			err = invalidTransition("confirm all", u, fmt.Errorf("front unit is %s", s))
		}
		if err != nil {
			return err
		}
	}
}

// CompensateAll undoes tracked units most-recent-first until the tracker is
// empty: completed units are compensated, active units are canceled and
// units in the middle of an outcome are resumed.
func (c *Coordinator) CompensateAll(ctx context.Context) error {
	for {
		if err := c.checkTerminated(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		u, ok := c.tracker.Get()
		if !ok {
			return nil
		}
		var err error
		switch s := u.State(); {
		case s == StateCompleted:
			err = c.Compensate(ctx, u)
		case s == StateActive:
			err = c.Cancel(ctx, u)
		case isInFlight(s):
			err = c.Resume(ctx, u)
		default:
			err = invalidTransition("compensate all", u, fmt.Errorf("front unit is %s", s))
		}
		if err != nil {
			return err
		}
	}
}

func isInFlight(s State) bool {
	_, ok := inFlight(s)
	return ok
}

// Abort terminates the instance with an unrecoverable fault. Units keep the
// state they are in, every outstanding continuation is discarded and every
// later operation returns the same *TerminationError. Aborting twice returns
// the first termination.
func (c *Coordinator) Abort(cause error) error {
	c.mu.Lock()
	if c.terminated != nil {
		t := c.terminated
		c.mu.Unlock()
		return t
	}
	t := &TerminationError{Instance: c.id, Cause: cause}
	c.terminated = t
	c.mu.Unlock()

	if d, ok := c.sched.(Discarder); ok {
		d.Discard()
	}
	if c.timers != nil {
		c.units.Range(func(_ UnitID, u *Unit) bool {
			if h := u.takeDeadline(); !h.IsZero() {
				c.timers.CancelTimer(h)
				release(c.sched, h)
			}
			return true
		})
	}
	c.metrics.abort()
	c.logger.Error("workflow instance terminated", "instance", t.Instance.String(), "error", cause)
	return t
}

// RequestCheckpoint suspends the caller until the host has taken a durable
// checkpoint. See Persister.RequestCheckpoint.
func (c *Coordinator) RequestCheckpoint(ctx context.Context) error {
	if err := c.checkTerminated(); err != nil {
		return err
	}
	if err := c.persister.RequestCheckpoint(ctx); err != nil {
		return err
	}
	c.logger.Info("checkpoint completed", "instance", c.ID().String())
	return nil
}

func (c *Coordinator) transition(ctx context.Context, u *Unit, ev Event, op string) error {
	if err := c.checkTerminated(); err != nil {
		return err
	}
	t, err := u.advance(ev)
	if err != nil {
		return invalidTransition(op, u, err)
	}
	t.At = time.Now()
	if err := c.log.Record(t); err != nil {
		c.logger.Warn("transition log out of step", "unit", u.ID().String(), "error", err)
	}
	c.metrics.transition(t)
	c.logger.InfoContext(ctx, "unit transition",
		"unit", u.ID().String(), "event", ev.String(), "from", t.From.String(), "to", t.To.String())
	return nil
}

// fire signals the handle u holds for kind, if any.
func (c *Coordinator) fire(u *Unit, kind TriggerKind, payload any) {
	if c.Terminated() != nil {
		return
	}
	h, ok := u.Handle(kind)
	if !ok {
		return
	}
	tr := Trigger{
		Handle:     h,
		Kind:       kind,
		Unit:       u.ID(),
		Occurrence: c.occurrence.Add(1),
		Payload:    payload,
	}
	delivered := c.sched.Signal(h, tr)
	c.log.RecordFired(tr)
	c.metrics.fired(kind)
	c.logger.Debug("handle fired", "unit", u.ID().String(), "trigger", kind.String(), "delivered", delivered)
}

func (c *Coordinator) runHandler(ctx context.Context, u *Unit, h HandlerFunc, inZone bool) error {
	if inZone {
		if zc, ok := c.sched.(ZoneController); ok {
			zc.EnterNoCheckpointZone()
			defer zc.ExitNoCheckpointZone()
		}
	}
	return h(ctx, UnitContext{Unit: u, Coordinator: c})
}

// fault propagates a handler error up the unit's scopes. The nearest ancestor
// whose OnFault returns nil contains it; otherwise the instance is aborted.
// The fault itself is always returned to the caller.
func (c *Coordinator) fault(ctx context.Context, u *Unit, s State, err error) error {
	var term *TerminationError
	if errors.As(err, &term) {
		return term
	}
	hErr := HandlerFailed(u.ID(), s, err)
	if IsFatal(err) {
		return c.Abort(hErr)
	}

	for p := u.Parent(); p != nil; p = p.Parent() {
		if p.handlers.OnFault == nil {
			continue
		}
		if perr := p.handlers.OnFault(ctx, UnitContext{Unit: p, Coordinator: c}, hErr); perr == nil {
			c.logger.Warn("handler fault contained", "unit", u.ID().String(), "scope", p.ID().String(), "error", err)
			return hErr
		}
	}
	return c.Abort(hErr)
}

// retire releases a unit that reached a terminal state: it leaves the
// tracker, its deadline is canceled and its live children become secondary
// roots.
func (c *Coordinator) retire(u *Unit) {
	c.tracker.Remove(u)
	c.metrics.tracked(c.tracker.Count())

	if h := u.takeDeadline(); !h.IsZero() {
		if c.timers != nil {
			c.timers.CancelTimer(h)
		}
		release(c.sched, h)
	}
	for _, child := range u.detachChildren() {
		u.addSecondaryRoot(child)
		c.logger.Info("secondary root scheduled", "unit", child.ID().String(), "origin", u.ID().String())
		c.fire(child, TriggerOnSecondaryRootScheduled, u.ID())
	}
	c.units.Delete(u.ID())
}
