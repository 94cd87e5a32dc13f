package compensable

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// LocalScheduler is an in-process, cooperative Scheduler.
//
// Signals never run continuations directly: they queue them, and RunPending
// runs the queue one continuation at a time on the caller's goroutine. A
// workflow instance that only advances through RunPending therefore never
// executes two handlers at once, even when timers fire on other goroutines.
type LocalScheduler struct {
	waiters *xsync.MapOf[Handle, *waiter]

	mu      sync.Mutex
	queue   []queued
	pending []pendingCheckpoint

	zone         atomic.Int32
	deferred     bool
	checkpointer func(ctx context.Context) error
}

type waiter struct {
	cont      Continuation
	done      chan struct{}
	payload   any
	resolved  bool
	discarded bool
}

type queued struct {
	cont    Continuation
	payload any
}

type pendingCheckpoint struct {
	ctx        context.Context
	onComplete func()
}

// LocalOption configures a LocalScheduler.
type LocalOption func(*LocalScheduler)

// WithCheckpointer sets the function that takes a durable checkpoint,
// typically Coordinator.Checkpoint.
func WithCheckpointer(fn func(ctx context.Context) error) LocalOption {
	return func(s *LocalScheduler) {
		s.checkpointer = fn
	}
}

// WithDeferredCheckpoints holds checkpoint requests until CompleteCheckpoints
// is called instead of completing them immediately.
func WithDeferredCheckpoints() LocalOption {
	return func(s *LocalScheduler) {
		s.deferred = true
	}
}

// NewLocalScheduler creates a LocalScheduler.
func NewLocalScheduler(opts ...LocalOption) *LocalScheduler {
	s := &LocalScheduler{
		waiters: xsync.NewMapOf[Handle, *waiter](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCheckpointer replaces the checkpoint function. It exists because the
// coordinator that takes checkpoints is usually built after its scheduler.
func (s *LocalScheduler) SetCheckpointer(fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpointer = fn
}

// CreateHandle implements Scheduler.
func (s *LocalScheduler) CreateHandle(cont Continuation) Handle {
	h := NewHandle()
	s.waiters.Store(h, &waiter{cont: cont, done: make(chan struct{})})
	return h
}

// Bind attaches cont to an existing handle reference, typically one reloaded
// from a snapshot. A later Signal on h resumes cont.
func (s *LocalScheduler) Bind(h Handle, cont Continuation) error {
	if h.IsZero() {
		return InvalidOperation("cannot bind the empty handle")
	}
	if _, loaded := s.waiters.LoadOrStore(h, &waiter{cont: cont, done: make(chan struct{})}); loaded {
		return InvalidOperation(fmt.Sprintf("handle %s is already bound", h))
	}
	return nil
}

// Signal implements Signaler.
func (s *LocalScheduler) Signal(h Handle, payload any) bool {
	w, ok := s.waiters.Load(h)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if w.resolved || w.discarded {
		return false
	}
	w.resolved = true
	w.payload = payload
	close(w.done)
	if w.cont != nil {
		s.queue = append(s.queue, queued{cont: w.cont, payload: payload})
	}
	return true
}

// Suspend implements Scheduler.
func (s *LocalScheduler) Suspend(ctx context.Context, h Handle) (any, error) {
	w, ok := s.waiters.Load(h)
	if !ok {
		return nil, fmt.Errorf("suspend on %s: %w", h, ErrUnknownHandle)
	}

	select {
	case <-w.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return w.payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolved reports whether h has been signaled.
func (s *LocalScheduler) Resolved(h Handle) bool {
	w, ok := s.waiters.Load(h)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return w.resolved
}

// RunPending runs queued continuations until the queue is empty, including
// continuations queued by the ones it runs. It returns how many ran.
func (s *LocalScheduler) RunPending(ctx context.Context) int {
	n := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return n
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		next.cont(ctx, next.payload)
		n++
	}
}

// Release implements Releaser. A released handle is unknown to the
// scheduler: signaling it does nothing and Suspend on it fails. A
// continuation it already queued still runs.
func (s *LocalScheduler) Release(h Handle) {
	s.waiters.Delete(h)
}

// Waiters returns the number of handles the scheduler still holds.
func (s *LocalScheduler) Waiters() int {
	return s.waiters.Size()
}

// Pending returns the number of queued continuations.
func (s *LocalScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

// RequestDurableCheckpoint implements Scheduler.
func (s *LocalScheduler) RequestDurableCheckpoint(ctx context.Context, onComplete func()) error {
	s.mu.Lock()
	if s.deferred {
		s.pending = append(s.pending, pendingCheckpoint{ctx: ctx, onComplete: onComplete})
		s.mu.Unlock()
		return nil
	}
	fn := s.checkpointer
	s.mu.Unlock()

	if fn != nil {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("durable checkpoint: %w", err)
		}
	}
	onComplete()
	return nil
}

// PendingCheckpoints returns the number of deferred checkpoint requests.
func (s *LocalScheduler) PendingCheckpoints() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// CompleteCheckpoints takes every deferred checkpoint and signals its
// completion. The first checkpoint error stops the pass; its request and
// the ones after it stay pending.
func (s *LocalScheduler) CompleteCheckpoints() error {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return nil
		}
		next := s.pending[0]
		fn := s.checkpointer
		s.mu.Unlock()

		if fn != nil {
			if err := fn(next.ctx); err != nil {
				return fmt.Errorf("durable checkpoint: %w", err)
			}
		}

		s.mu.Lock()
		s.pending = s.pending[1:]
		s.mu.Unlock()
		next.onComplete()
	}
}

// InNoCheckpointZone implements Scheduler.
func (s *LocalScheduler) InNoCheckpointZone() bool {
	return s.zone.Load() > 0
}

// EnterNoCheckpointZone implements ZoneController. Zones nest.
func (s *LocalScheduler) EnterNoCheckpointZone() {
	s.zone.Add(1)
}

// ExitNoCheckpointZone implements ZoneController.
func (s *LocalScheduler) ExitNoCheckpointZone() {
	if s.zone.Add(-1) < 0 {
		s.zone.Store(0)
	}
}

// NoCheckpointZone runs fn inside a no-checkpoint zone.
func (s *LocalScheduler) NoCheckpointZone(fn func() error) error {
	s.EnterNoCheckpointZone()
	defer s.ExitNoCheckpointZone()

	return fn()
}

// Discard implements Discarder: queued continuations are dropped, deferred
// checkpoints are forgotten and every unresolved handle is left permanently
// unresolved.
func (s *LocalScheduler) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = nil
	s.pending = nil
	s.waiters.Range(func(_ Handle, w *waiter) bool {
		if !w.resolved {
			w.discarded = true
		}
		return true
	})
}
