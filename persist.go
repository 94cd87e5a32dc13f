package compensable

import (
	"context"
	"fmt"
)

// checkpointDone is the payload a completed checkpoint signals with.
type checkpointDone struct{}

// Persister suspends execution until the host has taken a durable checkpoint.
type Persister struct {
	sched   Scheduler
	metrics *Metrics
}

// NewPersister creates a Persister running against sched.
func NewPersister(sched Scheduler, metrics *Metrics) *Persister {
	return &Persister{sched: sched, metrics: metrics}
}

// RequestCheckpoint asks the host for a durable checkpoint and suspends the
// caller until the host reports completion.
//
// Inside a no-checkpoint zone it fails with ErrNoCheckpointZone and does not
// suspend. Every successful call creates exactly one new suspension point.
func (p *Persister) RequestCheckpoint(ctx context.Context) error {
	if p.sched.InNoCheckpointZone() {
		p.metrics.checkpoint("rejected")
		return ErrNoCheckpointZone
	}

	h := p.sched.CreateHandle(nil)
	onComplete := func() {
		p.sched.Signal(h, checkpointDone{})
	}
	if err := p.sched.RequestDurableCheckpoint(ctx, onComplete); err != nil {
		release(p.sched, h)
		p.metrics.checkpoint("failed")
		return fmt.Errorf("request checkpoint: %w", err)
	}

	_, err := p.sched.Suspend(ctx, h)
	release(p.sched, h)
	if err != nil {
		p.metrics.checkpoint("interrupted")
		return fmt.Errorf("await checkpoint: %w", err)
	}
	p.metrics.checkpoint("completed")
	return nil
}
