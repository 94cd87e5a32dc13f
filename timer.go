package compensable

import (
	"sort"
	"sync"
	"time"
)

// TimerService registers timeout-bound handles. A registered handle is
// signaled automatically once its timeout elapses unless it is canceled first.
type TimerService interface {
	RegisterTimer(timeout time.Duration, h Handle)
	// CancelTimer is best-effort: canceling a handle that already fired or
	// was never registered is a no-op.
	CancelTimer(h Handle)
}

// TimerFired is the payload a timer delivers to its handle.
type TimerFired struct {
	Handle  Handle
	Timeout time.Duration
}

// ClockTimers is a TimerService backed by the wall clock.
type ClockTimers struct {
	signaler Signaler

	mu     sync.Mutex
	timers map[Handle]*time.Timer
}

// NewClockTimers creates a wall-clock TimerService that fires through s.
func NewClockTimers(s Signaler) *ClockTimers {
	return &ClockTimers{
		signaler: s,
		timers:   make(map[Handle]*time.Timer),
	}
}

// RegisterTimer implements TimerService. Registering a handle again restarts
// its timer.
func (c *ClockTimers) RegisterTimer(timeout time.Duration, h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.timers[h]; ok {
		prev.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(timeout, func() {
		c.mu.Lock()
		if c.timers[h] != t {
			c.mu.Unlock()
			return
		}
		delete(c.timers, h)
		c.mu.Unlock()

		c.signaler.Signal(h, TimerFired{Handle: h, Timeout: timeout})
	})
	c.timers[h] = t
}

// CancelTimer implements TimerService.
func (c *ClockTimers) CancelTimer(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.timers[h]; ok {
		t.Stop()
		delete(c.timers, h)
	}
}

// Pending returns the number of armed timers.
func (c *ClockTimers) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.timers)
}

// ManualTimers is a TimerService driven by a virtual clock that only moves
// when Advance is called.
type ManualTimers struct {
	signaler Signaler

	mu      sync.Mutex
	now     time.Duration
	entries map[Handle]manualEntry
}

type manualEntry struct {
	deadline time.Duration
	timeout  time.Duration
}

// NewManualTimers creates a virtual-clock TimerService that fires through s.
func NewManualTimers(s Signaler) *ManualTimers {
	return &ManualTimers{
		signaler: s,
		entries:  make(map[Handle]manualEntry),
	}
}

// RegisterTimer implements TimerService.
func (m *ManualTimers) RegisterTimer(timeout time.Duration, h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[h] = manualEntry{deadline: m.now + timeout, timeout: timeout}
}

// CancelTimer implements TimerService.
func (m *ManualTimers) CancelTimer(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, h)
}

// Advance moves the virtual clock forward by d and fires every timer whose
// deadline has passed, earliest first. It returns the number fired.
func (m *ManualTimers) Advance(d time.Duration) int {
	m.mu.Lock()
	m.now += d
	type due struct {
		h Handle
		e manualEntry
	}
	var fire []due
	for h, e := range m.entries {
		if e.deadline <= m.now {
			fire = append(fire, due{h: h, e: e})
			delete(m.entries, h)
		}
	}
	m.mu.Unlock()

	sort.Slice(fire, func(i, j int) bool {
		return fire[i].e.deadline < fire[j].e.deadline
	})
	for _, f := range fire {
		m.signaler.Signal(f.h, TimerFired{Handle: f.h, Timeout: f.e.timeout})
	}
	return len(fire)
}

// Pending returns the number of armed timers.
func (m *ManualTimers) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}
