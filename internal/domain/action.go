package domain

import (
	"fmt"
	"time"
)

// ActionKind names one kind of locally-applied mutation awaiting remote
// acknowledgment.
type ActionKind string

const (
	ActionStart    ActionKind = "start"
	ActionComplete ActionKind = "complete"
	ActionSkip     ActionKind = "skip"
	ActionMove     ActionKind = "move"

	ActionTextInput        ActionKind = "textInput"
	ActionToggleInput      ActionKind = "toggleInput"
	ActionSliderInput      ActionKind = "sliderInput"
	ActionStepperInput     ActionKind = "stepperInput"
	ActionPickerInput      ActionKind = "pickerInput"
	ActionDateInput        ActionKind = "dateInput"
	ActionSegmentedInput   ActionKind = "segmentedInput"
	ActionMultiSelectInput ActionKind = "multiSelectInput"
)

func ParseActionKind(s string) (ActionKind, bool) {
	switch ActionKind(s) {
	case ActionStart, ActionComplete, ActionSkip, ActionMove,
		ActionTextInput, ActionToggleInput, ActionSliderInput, ActionStepperInput,
		ActionPickerInput, ActionDateInput, ActionSegmentedInput, ActionMultiSelectInput:
		return ActionKind(s), true
	}
	return "", false
}

// IsInput reports whether the kind carries a form value rather than a
// lifecycle transition.
func (k ActionKind) IsInput() bool {
	switch k {
	case ActionTextInput, ActionToggleInput, ActionSliderInput, ActionStepperInput,
		ActionPickerInput, ActionDateInput, ActionSegmentedInput, ActionMultiSelectInput:
		return true
	}
	return false
}

// PendingAction is one ordered entry of the offline action queue. Values are
// serialized to strings when queued: move packs "<from>:<to>", skip carries
// the reason code, complete carries the signature payload.
type PendingAction struct {
	Kind      ActionKind `json:"kind"`
	EntityID  string     `json:"entity_id,omitempty"`
	Key       string     `json:"key,omitempty"`
	Value     string     `json:"value,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// MoveValue packs a reorder's source and destination indices for the wire.
func MoveValue(from, to int) string {
	return fmt.Sprintf("%d:%d", from, to)
}

// ParseMoveValue unpacks a move action's value.
func ParseMoveValue(v string) (from, to int, err error) {
	if _, err = fmt.Sscanf(v, "%d:%d", &from, &to); err != nil {
		return 0, 0, fmt.Errorf("malformed move value %q", v)
	}
	return from, to, nil
}
