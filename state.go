package compensable

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle state of a compensable unit.
type State int

const (
	StateCreating State = iota
	StateActive
	StateCompleted
	StateConfirming
	StateConfirmed
	StateCompensating
	StateCompensated
	StateCanceling
	StateCanceled
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateCompensated, StateCanceled:
		return true
	}
	return false
}

// Tracked reports whether a unit in state s belongs in the execution tracker.
func (s State) Tracked() bool {
	return s != StateCreating && !s.Terminal()
}

// Event drives a unit from one State to the next.
type Event int

const (
	EventActivate Event = iota
	EventComplete
	EventConfirm
	EventConfirmed
	EventCompensate
	EventCompensated
	EventCancel
	EventCanceled
)

// String returns the string representation of the Event.
func (e Event) String() string {
	switch e {
	case EventActivate:
		return "activate"
	case EventComplete:
		return "complete"
	case EventConfirm:
		return "confirm"
	case EventConfirmed:
		return "confirmed"
	case EventCompensate:
		return "compensate"
	case EventCompensated:
		return "compensated"
	case EventCancel:
		return "cancel"
	case EventCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("Unknown Event: %d", e)
	}
}

// next returns the state a unit moves to after ev, or an error if ev is not
// legal in s. Every path only moves forward, so no state is revisited.
func (s State) next(ev Event) (State, error) {
	switch s {
	case StateCreating:
		if ev == EventActivate {
			return StateActive, nil
		}
	case StateActive:
		switch ev {
		case EventComplete:
			return StateCompleted, nil
		case EventCancel:
			return StateCanceling, nil
		}
	case StateCompleted:
		switch ev {
		case EventConfirm:
			return StateConfirming, nil
		case EventCompensate:
			return StateCompensating, nil
		case EventCancel:
			return StateCanceling, nil
		}
	case StateConfirming:
		if ev == EventConfirmed {
			return StateConfirmed, nil
		}
	case StateCompensating:
		if ev == EventCompensated {
			return StateCompensated, nil
		}
	case StateCanceling:
		if ev == EventCanceled {
			return StateCanceled, nil
		}
	}

	return s, fmt.Errorf("illegal event %s for current state %s", ev, s)
}

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateCreating:
		return "Creating"
	case StateActive:
		return "Active"
	case StateCompleted:
		return "Completed"
	case StateConfirming:
		return "Confirming"
	case StateConfirmed:
		return "Confirmed"
	case StateCompensating:
		return "Compensating"
	case StateCompensated:
		return "Compensated"
	case StateCanceling:
		return "Canceling"
	case StateCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("Unknown State: %d", s)
	}
}

// MarshalJSON implements the json.Marshaler interface for State.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for State.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	switch str {
	case "Creating":
		*s = StateCreating
	case "Active":
		*s = StateActive
	case "Completed":
		*s = StateCompleted
	case "Confirming":
		*s = StateConfirming
	case "Confirmed":
		*s = StateConfirmed
	case "Compensating":
		*s = StateCompensating
	case "Compensated":
		*s = StateCompensated
	case "Canceling":
		*s = StateCanceling
	case "Canceled":
		*s = StateCanceled
	default:
		return fmt.Errorf("invalid State: %s", str)
	}

	return nil
}
