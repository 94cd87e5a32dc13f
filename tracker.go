package compensable

import (
	"sync"

	"github.com/tidwall/btree"
)

// Tracker is the ordered registry of active compensable units.
//
// Units are kept newest-first: Get returns the most recently added unit that
// has not been removed, which is the default first candidate for undo.
// Ordering uses a monotonically increasing insertion sequence, so removing a
// unit from the middle never disturbs the relative order of the others.
type Tracker struct {
	mu    sync.Mutex
	seq   uint64
	order *btree.Map[uint64, *Unit]
	index map[UnitID]uint64
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		order: btree.NewMap[uint64, *Unit](16),
		index: make(map[UnitID]uint64),
	}
}

// Add inserts u at the front. Adding a unit that is already tracked is a no-op.
func (t *Tracker) Add(u *Unit) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.index[u.ID()]; ok {
		return
	}
	t.seq++
	t.order.Set(t.seq, u)
	t.index[u.ID()] = t.seq
}

// Remove removes u wherever it sits. Removing an absent unit is a no-op.
func (t *Tracker) Remove(u *Unit) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq, ok := t.index[u.ID()]
	if !ok {
		return
	}
	t.order.Delete(seq)
	delete(t.index, u.ID())
}

// Get returns the front (most recently added) unit, if any.
func (t *Tracker) Get() (*Unit, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, u, ok := t.order.Max()
	return u, ok
}

// Contains reports whether u is tracked.
func (t *Tracker) Contains(u *Unit) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.index[u.ID()]
	return ok
}

// Count returns the number of tracked units.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.order.Len()
}

// Units returns the tracked units front to back.
func (t *Tracker) Units() []*Unit {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Unit, 0, t.order.Len())
	t.order.Reverse(func(_ uint64, u *Unit) bool {
		out = append(out, u)
		return true
	})
	return out
}

// IDs returns the identifiers of the tracked units front to back.
func (t *Tracker) IDs() []UnitID {
	units := t.Units()
	ids := make([]UnitID, len(units))
	for i, u := range units {
		ids[i] = u.ID()
	}
	return ids
}
