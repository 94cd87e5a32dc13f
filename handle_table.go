package compensable

import (
	"encoding/json"
	"fmt"
)

// HandleTable maps each TriggerKind to at most one resumption handle.
//
// The table is a fixed-size array indexed by the trigger kind's ordinal and
// serializes as a JSON array of exactly TriggerKindCount entries, each either
// null or a handle string. A reloaded table therefore carries the same handle
// references it was saved with.
type HandleTable [TriggerKindCount]Handle

// Get returns the handle stored for kind, if any.
func (t *HandleTable) Get(kind TriggerKind) (Handle, bool) {
	if !kind.Valid() {
		return Handle{}, false
	}
	h := t[kind]
	return h, !h.IsZero()
}

// Set stores h for kind, replacing any previous handle. Setting the zero
// Handle clears the slot. Set panics on an undefined kind.
func (t *HandleTable) Set(kind TriggerKind, h Handle) {
	if !kind.Valid() {
		panic(fmt.Sprintf("compensable: trigger kind %d out of range", kind))
	}
	t[kind] = h
}

// Len returns the number of occupied slots.
func (t *HandleTable) Len() int {
	n := 0
	for _, h := range t {
		if !h.IsZero() {
			n++
		}
	}
	return n
}

// MarshalJSON implements the json.Marshaler interface for HandleTable.
func (t HandleTable) MarshalJSON() ([]byte, error) {
	slots := make([]*Handle, TriggerKindCount)
	for i := range t {
		if !t[i].IsZero() {
			h := t[i]
			slots[i] = &h
		}
	}
	return json.Marshal(slots)
}

// UnmarshalJSON implements the json.Unmarshaler interface for HandleTable.
func (t *HandleTable) UnmarshalJSON(data []byte) error {
	var slots []*Handle
	if err := json.Unmarshal(data, &slots); err != nil {
		return err
	}
	if len(slots) != TriggerKindCount {
		return fmt.Errorf("handle table has %d slots, want %d", len(slots), TriggerKindCount)
	}
	var out HandleTable
	for i, h := range slots {
		if h != nil {
			out[i] = *h
		}
	}
	*t = out
	return nil
}
