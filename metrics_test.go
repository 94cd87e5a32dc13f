package compensable

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsFollowCoordinator(t *testing.T) {
	m := NewMetrics("test")
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	sched := NewLocalScheduler()
	timers := NewManualTimers(sched)
	h := newHarness(t)
	h.sched = sched
	h.coord = NewCoordinator(sched, WithMetrics(m), WithTimers(timers))

	a := h.run(nil, "A")
	b := h.run(nil, "B")
	h.wire(a, TriggerConfirmed, "A confirmed")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Tracked))

	_, err := h.coord.EscalateAfter(h.ctx, b, time.Second)
	require.NoError(t, err)
	timers.Advance(time.Second)
	h.drain()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Escalations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tracked))

	require.NoError(t, h.coord.ConfirmAll(h.ctx))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Tracked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fired.WithLabelValues("Confirmed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("activate", "Active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("compensated", "Compensated")))

	err = h.coord.Abort(errors.New("stop"))
	assert.ErrorIs(t, err, ErrTerminated)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Aborts))
}

func TestMetricsCountCheckpoints(t *testing.T) {
	m := NewMetrics("test")
	sched := NewLocalScheduler()
	p := NewPersister(sched, m)
	ctx := context.Background()

	require.NoError(t, p.RequestCheckpoint(ctx))
	_ = sched.NoCheckpointZone(func() error {
		return p.RequestCheckpoint(ctx)
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Checkpoints.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Checkpoints.WithLabelValues("rejected")))
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.transition(Transition{})
		m.fired(TriggerConfirmed)
		m.tracked(3)
		m.checkpoint("completed")
		m.escalation()
		m.abort()
	})
}
