package compensable

import (
	"context"
	"fmt"
	"time"
)

// EscalateAfter arms a deadline for u. If u has not reached a terminal state
// when timeout elapses, a completed unit is compensated and an active unit is
// canceled. Arming a new deadline replaces the previous one; reaching a
// terminal state cancels it.
func (c *Coordinator) EscalateAfter(ctx context.Context, u *Unit, timeout time.Duration) (Handle, error) {
	if err := c.checkTerminated(); err != nil {
		return Handle{}, err
	}
	if c.timers == nil {
		return Handle{}, InvalidOperation("no timer service configured")
	}
	if s := u.State(); s.Terminal() {
		return Handle{}, invalidTransition("escalate", u, fmt.Errorf("unit is %s", s))
	}

	var h Handle
	h = c.sched.CreateHandle(func(ctx context.Context, _ any) {
		c.escalate(ctx, u, h)
	})
	if prev := u.setDeadline(h); !prev.IsZero() {
		c.timers.CancelTimer(prev)
		release(c.sched, prev)
	}
	c.timers.RegisterTimer(timeout, h)

	c.logger.InfoContext(ctx, "deadline armed", "unit", u.ID().String(), "timeout", timeout)
	return h, nil
}

func (c *Coordinator) escalate(ctx context.Context, u *Unit, h Handle) {
	if c.Terminated() != nil {
		return
	}
	if current, ok := u.Deadline(); !ok || current != h {
		return
	}

	var err error
	switch s := u.State(); s {
	case StateCompleted:
		c.metrics.escalation()
		c.logger.WarnContext(ctx, "deadline passed, compensating", "unit", u.ID().String())
		err = c.Compensate(ctx, u)
	case StateActive:
		c.metrics.escalation()
		c.logger.WarnContext(ctx, "deadline passed, canceling", "unit", u.ID().String())
		err = c.Cancel(ctx, u)
	default:
		c.logger.DebugContext(ctx, "deadline passed with nothing to escalate", "unit", u.ID().String(), "state", s.String())
		return
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "escalation failed", "unit", u.ID().String(), "error", err)
	}
}
