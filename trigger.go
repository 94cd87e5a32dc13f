package compensable

import (
	"encoding/json"
	"fmt"
)

// TriggerKind names one of the fixed lifecycle events a unit exposes handles for.
type TriggerKind int

const (
	TriggerConfirmed TriggerKind = iota
	TriggerCanceled
	TriggerCompensated
	TriggerOnConfirmation
	TriggerOnCompensation
	TriggerOnCancellation
	TriggerOnSecondaryRootScheduled

	// TriggerKindCount is the number of trigger kinds and the size of a HandleTable.
	TriggerKindCount = int(TriggerOnSecondaryRootScheduled) + 1
)

// TriggerKinds lists every trigger kind in ordinal order.
var TriggerKinds = [TriggerKindCount]TriggerKind{
	TriggerConfirmed,
	TriggerCanceled,
	TriggerCompensated,
	TriggerOnConfirmation,
	TriggerOnCompensation,
	TriggerOnCancellation,
	TriggerOnSecondaryRootScheduled,
}

// Valid reports whether k is one of the defined trigger kinds.
func (k TriggerKind) Valid() bool {
	return k >= 0 && int(k) < TriggerKindCount
}

// String returns the string representation of the TriggerKind.
func (k TriggerKind) String() string {
	switch k {
	case TriggerConfirmed:
		return "Confirmed"
	case TriggerCanceled:
		return "Canceled"
	case TriggerCompensated:
		return "Compensated"
	case TriggerOnConfirmation:
		return "OnConfirmation"
	case TriggerOnCompensation:
		return "OnCompensation"
	case TriggerOnCancellation:
		return "OnCancellation"
	case TriggerOnSecondaryRootScheduled:
		return "OnSecondaryRootScheduled"
	default:
		return fmt.Sprintf("Unknown TriggerKind: %d", k)
	}
}

// MarshalJSON implements the json.Marshaler interface for TriggerKind.
func (k TriggerKind) MarshalJSON() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid TriggerKind: %d", k)
	}
	return json.Marshal(k.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for TriggerKind.
func (k *TriggerKind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	for _, kind := range TriggerKinds {
		if kind.String() == str {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("invalid TriggerKind: %s", str)
}

// Trigger describes one firing of a resumption handle. It is the payload a
// continuation receives when the state machine signals a unit's handle.
//
// Occurrence is unique per coordinator and increases with every fire, so
// collaborators can correlate which branch a given firing belongs to.
type Trigger struct {
	Handle     Handle
	Kind       TriggerKind
	Unit       UnitID
	Occurrence uint64
	Payload    any
}

// String implements the fmt.Stringer interface for Trigger.
func (t Trigger) String() string {
	return fmt.Sprintf("#%d %s unit=%s handle=%s", t.Occurrence, t.Kind, t.Unit, t.Handle)
}
