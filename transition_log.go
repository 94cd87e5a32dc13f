package compensable

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Transition records one state change of a unit.
type Transition struct {
	Unit  UnitID
	Event Event
	From  State
	To    State
	At    time.Time
}

// String implements the fmt.Stringer interface for Transition.
func (t Transition) String() string {
	return fmt.Sprintf("%s %s: %s -> %s", t.Unit, t.Event, t.From, t.To)
}

// TransitionLog is the append-only history of a coordinator: every state
// transition and every handle the state machine fired.
type TransitionLog struct {
	sync.Mutex
	transitions []Transition
	fired       []Trigger
	unitState   map[UnitID]State
}

// NewTransitionLog creates a new, empty TransitionLog.
func NewTransitionLog() *TransitionLog {
	return &TransitionLog{
		transitions: make([]Transition, 0),
		fired:       make([]Trigger, 0),
		unitState:   make(map[UnitID]State),
	}
}

// Record appends a transition. The transition must start from the state the
// log last saw for the unit (StateCreating for a unit it has never seen).
func (l *TransitionLog) Record(t Transition) error {
	l.Lock()
	defer l.Unlock()

	current, ok := l.unitState[t.Unit]
	if !ok {
		current = StateCreating
	}
	if current != t.From {
		return fmt.Errorf("transition log: unit %s is %s, not %s", t.Unit, current, t.From)
	}
	if _, err := t.From.next(t.Event); err != nil {
		return err
	}

	l.unitState[t.Unit] = t.To
	l.transitions = append(l.transitions, t)
	return nil
}

// RecordFired appends a fired trigger.
func (l *TransitionLog) RecordFired(tr Trigger) {
	l.Lock()
	defer l.Unlock()

	l.fired = append(l.fired, tr)
}

// seed sets the last known state of a unit without recording a transition.
// It is used when units are restored from a snapshot.
func (l *TransitionLog) seed(id UnitID, s State) {
	l.Lock()
	defer l.Unlock()

	l.unitState[id] = s
}

// Transitions returns a copy of all recorded transitions in order.
func (l *TransitionLog) Transitions() []Transition {
	l.Lock()
	defer l.Unlock()

	return append([]Transition(nil), l.transitions...)
}

// Fired returns a copy of all fired triggers in order.
func (l *TransitionLog) Fired() []Trigger {
	l.Lock()
	defer l.Unlock()

	return append([]Trigger(nil), l.fired...)
}

// ForUnit returns the transitions recorded for one unit.
func (l *TransitionLog) ForUnit(id UnitID) []Transition {
	l.Lock()
	defer l.Unlock()

	var out []Transition
	for _, t := range l.transitions {
		if t.Unit == id {
			out = append(out, t)
		}
	}
	return out
}

// TransitionLogPretty is a helper for pretty-printing a TransitionLog.
type TransitionLogPretty struct {
	Log *TransitionLog
}

// String implements the fmt.Stringer interface for TransitionLogPretty.
func (p *TransitionLogPretty) String() string {
	p.Log.Lock()
	defer p.Log.Unlock()

	var sb strings.Builder
	sb.WriteString("TRANSITION LOG:\n")
	sb.WriteString(fmt.Sprintf("units:       %d\n", len(p.Log.unitState)))
	sb.WriteString(fmt.Sprintf("transitions (%d total):\n", len(p.Log.transitions)))
	for i, t := range p.Log.transitions {
		sb.WriteString(fmt.Sprintf("%03d %s\n", i+1, t.String()))
	}
	sb.WriteString(fmt.Sprintf("fired (%d total):\n", len(p.Log.fired)))
	for i, tr := range p.Log.fired {
		sb.WriteString(fmt.Sprintf("%03d %s\n", i+1, tr.String()))
	}
	return sb.String()
}
