package compensable

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fortressi/compensable/set"
	"github.com/google/uuid"
)

// Snapshot is the persisted state of an in-flight workflow instance: the
// tracker's order and, for every live unit, its state and handle table.
type Snapshot struct {
	ID      uuid.UUID      `json:"id"`
	TakenAt time.Time      `json:"taken_at"`
	Tracker []UnitID       `json:"tracker"`
	Units   []UnitSnapshot `json:"units"`
}

// UnitSnapshot is the persisted state of one unit.
type UnitSnapshot struct {
	ID            UnitID      `json:"id"`
	Kind          string      `json:"kind,omitempty"`
	State         State       `json:"state"`
	Atomic        bool        `json:"atomic,omitempty"`
	Parent        *UnitID     `json:"parent,omitempty"`
	Origin        *UnitID     `json:"origin,omitempty"`
	SecondaryRoot bool        `json:"secondary_root,omitempty"`
	Handles       HandleTable `json:"handles"`
}

// Snapshot captures the coordinator's live units. Tracked units come first,
// front to back, followed by units that were scheduled but not yet activated.
func (c *Coordinator) Snapshot() Snapshot {
	snap := Snapshot{
		ID:      c.ID(),
		TakenAt: time.Now(),
		Tracker: c.tracker.IDs(),
	}

	tracked := set.Of(snap.Tracker...)
	for _, u := range c.tracker.Units() {
		snap.Units = append(snap.Units, snapshotUnit(u))
	}

	var rest []UnitSnapshot
	c.units.Range(func(id UnitID, u *Unit) bool {
		if !tracked.Contains(id) {
			rest = append(rest, snapshotUnit(u))
		}
		return true
	})
	sort.Slice(rest, func(i, j int) bool {
		return rest[i].ID.String() < rest[j].ID.String()
	})
	snap.Units = append(snap.Units, rest...)
	return snap
}

func snapshotUnit(u *Unit) UnitSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()

	us := UnitSnapshot{
		ID:            u.id,
		Kind:          u.kind,
		State:         u.state,
		Atomic:        u.atomic,
		SecondaryRoot: u.secondaryRoot,
		Handles:       u.handles,
	}
	if u.parent != nil {
		id := u.parent.id
		us.Parent = &id
	}
	if u.origin != nil {
		id := u.origin.id
		us.Origin = &id
	}
	return us
}

// Checkpoint saves the current snapshot to the coordinator's store. It is
// the durable checkpoint primitive a LocalScheduler runs on request.
func (c *Coordinator) Checkpoint(ctx context.Context) error {
	if c.store == nil {
		return InvalidOperation("no snapshot store configured")
	}
	snap := c.Snapshot()
	if err := c.store.Save(ctx, snap.ID.String(), snap); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	c.logger.DebugContext(ctx, "snapshot saved", "instance", snap.ID.String(), "units", len(snap.Units))
	return nil
}

// Restore rebuilds units and tracker order from snap into a coordinator that
// has no units yet. Handlers are resolved from the registry by kind; the
// restored handle tables keep their handle references, so the host only has
// to re-bind its continuations to them.
func (c *Coordinator) Restore(snap Snapshot) error {
	if err := c.checkTerminated(); err != nil {
		return err
	}
	if c.units.Size() > 0 {
		return InvalidOperation("restore into a coordinator that already has units")
	}

	seen := &set.Set[UnitID]{}
	built := make(map[UnitID]*Unit, len(snap.Units))
	for _, us := range snap.Units {
		if us.ID.IsZero() {
			return fmt.Errorf("restore: unit with zero id")
		}
		if !seen.Insert(us.ID) {
			return fmt.Errorf("restore: duplicate unit %s", us.ID)
		}
		if us.State.Terminal() {
			return fmt.Errorf("restore: unit %s is already %s", us.ID, us.State)
		}

		u := newUnit(WithUnitID(us.ID), WithKind(us.Kind))
		u.state = us.State
		u.atomic = us.Atomic
		u.secondaryRoot = us.SecondaryRoot
		u.handles = us.Handles
		if us.Kind != "" {
			h, err := c.resolveHandlers(us.Kind)
			if err != nil {
				return fmt.Errorf("restore unit %s: %w", us.ID, err)
			}
			u.handlers = h
			u.resolved = true
		}
		built[us.ID] = u
	}

	for _, us := range snap.Units {
		u := built[us.ID]
		if us.Parent != nil {
			p, ok := built[*us.Parent]
			if !ok {
				return fmt.Errorf("restore: parent %s of unit %s not in snapshot", *us.Parent, us.ID)
			}
			u.parent = p
			p.children = append(p.children, u)
		}
		// The origin may already have reached a terminal state.
		if us.Origin != nil {
			if o, ok := built[*us.Origin]; ok {
				u.origin = o
				o.secondaryRoots = append(o.secondaryRoots, u)
			}
		}
	}

	tracked := &set.Set[UnitID]{}
	for _, id := range snap.Tracker {
		u, ok := built[id]
		if !ok {
			return fmt.Errorf("restore: tracked unit %s not in snapshot", id)
		}
		if !u.state.Tracked() {
			return fmt.Errorf("restore: unit %s is %s and cannot be tracked", id, u.state)
		}
		if !tracked.Insert(id) {
			return fmt.Errorf("restore: unit %s tracked twice", id)
		}
	}
	for id, u := range built {
		if u.state.Tracked() && !tracked.Contains(id) {
			return fmt.Errorf("restore: unit %s is %s but not tracked", id, u.state)
		}
	}

	c.mu.Lock()
	c.id = snap.ID
	c.mu.Unlock()

	for i := len(snap.Tracker) - 1; i >= 0; i-- {
		c.tracker.Add(built[snap.Tracker[i]])
	}
	for id, u := range built {
		c.units.Store(id, u)
		c.log.seed(id, u.state)
	}
	c.metrics.tracked(c.tracker.Count())

	c.logger.Info("snapshot restored", "instance", snap.ID.String(), "units", len(built), "tracked", tracked.Len())
	return nil
}
