package descriptor

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Supported screen payload versions. Out-of-range payloads fail closed.
const (
	MinScreenVersion = 1
	MaxScreenVersion = 5
)

// Screen is the decoded root wire payload: a version gate plus one component
// tree.
type Screen struct {
	Version   int                 `json:"version"`
	Component ComponentDescriptor `json:"component"`
}

// VersionError reports a screen version outside the supported range.
type VersionError struct {
	Version int
}

func (e VersionError) Error() string {
	return fmt.Sprintf("unsupported screen version %d (supported %d-%d)", e.Version, MinScreenVersion, MaxScreenVersion)
}

// DecodeError reports a payload that cannot produce a component tree at all:
// unparseable JSON, a missing component, or a bad root discriminant. Bad
// discriminants below the root are contained per node by the validation pass
// so siblings still render.
type DecodeError struct {
	Msg string
}

func (e DecodeError) Error() string { return e.Msg }

func decodeErrorf(format string, args ...any) DecodeError {
	return DecodeError{Msg: fmt.Sprintf(format, args...)}
}

// CompatibilityNote describes what a payload version may carry. Versions are
// gated only by range; the note is informational.
func CompatibilityNote(version int) string {
	switch version {
	case 1:
		return "basic components only"
	case 2:
		return "adds input controls"
	case 3:
		return "adds lists and navigation"
	case 4:
		return "adds presentation surfaces"
	case 5:
		return "full component set with enhanced validation"
	}
	return "unsupported"
}

// DecodeScreen parses a wire payload {"version":n,"component":{...}}. The
// version is checked first: unsupported versions fail closed rather than
// attempting best-effort rendering.
func DecodeScreen(data []byte) (*Screen, error) {
	var raw struct {
		Version   int             `json:"version"`
		Component json.RawMessage `json:"component"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, decodeErrorf("malformed screen payload: %v", err)
	}
	if raw.Version < MinScreenVersion || raw.Version > MaxScreenVersion {
		return nil, VersionError{Version: raw.Version}
	}
	if len(raw.Component) == 0 || string(raw.Component) == "null" {
		return nil, decodeErrorf("screen payload has no component")
	}
	component, err := Decode(raw.Component)
	if err != nil {
		return nil, err
	}
	return &Screen{Version: raw.Version, Component: component}, nil
}

// Decode parses one component subtree. The root must carry a known type
// discriminant; every node without an id is assigned a fresh one, so
// decode→encode→decode is idempotent on ids.
func Decode(data []byte) (ComponentDescriptor, error) {
	var d ComponentDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return ComponentDescriptor{}, decodeErrorf("malformed component: %v", err)
	}
	if d.Kind == "" {
		return ComponentDescriptor{}, decodeErrorf("component missing type discriminant")
	}
	if !KnownKind(d.Kind) {
		return ComponentDescriptor{}, decodeErrorf("unknown component type %q", d.Kind)
	}
	assignIDs(&d)
	return d, nil
}

// Encode serializes a decoded tree. Ids are always present after Decode and
// are always written.
func Encode(d ComponentDescriptor) ([]byte, error) {
	return json.Marshal(d)
}

// EncodeScreen serializes a screen payload.
func EncodeScreen(s *Screen) ([]byte, error) {
	return json.Marshal(s)
}

func assignIDs(d *ComponentDescriptor) {
	Walk(d, func(n *ComponentDescriptor) bool {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		return true
	})
}
