package compensable

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSchedulerSignalQueuesContinuation(t *testing.T) {
	ctx := context.Background()
	s := NewLocalScheduler()

	var got []any
	h := s.CreateHandle(func(_ context.Context, payload any) {
		got = append(got, payload)
	})

	assert.True(t, s.Signal(h, "first"))
	assert.Empty(t, got, "signals never run continuations inline")
	assert.Equal(t, 1, s.Pending())

	assert.False(t, s.Signal(h, "second"), "a handle resolves once")
	assert.False(t, s.Signal(NewHandle(), nil), "unknown handle")

	assert.Equal(t, 1, s.RunPending(ctx))
	assert.Equal(t, []any{"first"}, got)
	assert.True(t, s.Resolved(h))
}

func TestLocalSchedulerRunPendingDrainsNestedSignals(t *testing.T) {
	ctx := context.Background()
	s := NewLocalScheduler()

	var order []string
	second := s.CreateHandle(func(context.Context, any) {
		order = append(order, "second")
	})
	first := s.CreateHandle(func(context.Context, any) {
		order = append(order, "first")
		s.Signal(second, nil)
	})

	s.Signal(first, nil)
	assert.Equal(t, 2, s.RunPending(ctx))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestLocalSchedulerSuspend(t *testing.T) {
	s := NewLocalScheduler()
	h := s.CreateHandle(nil)

	done := make(chan any, 1)
	go func() {
		payload, err := s.Suspend(context.Background(), h)
		if err == nil {
			done <- payload
		}
	}()

	select {
	case <-done:
		t.Fatal("suspend returned before the handle was signaled")
	case <-time.After(20 * time.Millisecond):
	}

	s.Signal(h, 42)
	select {
	case payload := <-done:
		assert.Equal(t, 42, payload)
	case <-time.After(time.Second):
		t.Fatal("suspend did not resume")
	}

	_, err := s.Suspend(context.Background(), NewHandle())
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestLocalSchedulerDiscard(t *testing.T) {
	ctx := context.Background()
	s := NewLocalScheduler()

	ran := 0
	queued := s.CreateHandle(func(context.Context, any) { ran++ })
	later := s.CreateHandle(func(context.Context, any) { ran++ })

	s.Signal(queued, nil)
	s.Discard()

	assert.Zero(t, s.RunPending(ctx), "queued continuations are dropped")
	assert.False(t, s.Signal(later, nil), "discarded handles never resolve")
	assert.Zero(t, ran)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := s.Suspend(waitCtx, later)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalSchedulerBind(t *testing.T) {
	ctx := context.Background()
	s := NewLocalScheduler()
	h := NewHandle()

	var got any
	require.NoError(t, s.Bind(h, func(_ context.Context, payload any) { got = payload }))
	assert.ErrorIs(t, s.Bind(h, nil), ErrInvalidOperation)
	assert.ErrorIs(t, s.Bind(Handle{}, nil), ErrInvalidOperation)

	s.Signal(h, "resumed")
	s.RunPending(ctx)
	assert.Equal(t, "resumed", got)
}

func TestLocalSchedulerZonesNest(t *testing.T) {
	s := NewLocalScheduler()
	assert.False(t, s.InNoCheckpointZone())

	s.EnterNoCheckpointZone()
	err := s.NoCheckpointZone(func() error {
		assert.True(t, s.InNoCheckpointZone())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, s.InNoCheckpointZone(), "the outer zone is still open")

	s.ExitNoCheckpointZone()
	assert.False(t, s.InNoCheckpointZone())

	s.ExitNoCheckpointZone()
	assert.False(t, s.InNoCheckpointZone(), "unbalanced exits do not go negative")
}

func TestLocalSchedulerRelease(t *testing.T) {
	ctx := context.Background()
	s := NewLocalScheduler()

	ran := 0
	queued := s.CreateHandle(func(context.Context, any) { ran++ })
	idle := s.CreateHandle(nil)
	require.Equal(t, 2, s.Waiters())

	require.True(t, s.Signal(queued, nil))
	s.Release(queued)
	s.Release(idle)
	assert.Zero(t, s.Waiters())

	assert.False(t, s.Signal(idle, nil))
	_, err := s.Suspend(ctx, idle)
	assert.ErrorIs(t, err, ErrUnknownHandle)

	s.RunPending(ctx)
	assert.Equal(t, 1, ran, "a queued continuation outlives its handle")
}
