// Package descriptor holds the server-driven screen model: a versioned tree
// of typed UI component descriptors, its wire decoding, and the structural
// validation pass that runs before resolution.
package descriptor

// Kind discriminates a component descriptor. The set is closed; decoding an
// unknown kind is a decode error, never a fallback.
type Kind string

const (
	KindText    Kind = "text"
	KindButton  Kind = "button"
	KindImage   Kind = "image"
	KindSpacer  Kind = "spacer"
	KindDivider Kind = "divider"

	KindVStack  Kind = "vstack"
	KindHStack  Kind = "hstack"
	KindScroll  Kind = "scroll"
	KindGrid    Kind = "grid"
	KindSection Kind = "section"

	KindList Kind = "list"

	KindTextField        Kind = "textField"
	KindToggle           Kind = "toggle"
	KindSlider           Kind = "slider"
	KindPicker           Kind = "picker"
	KindDatePicker       Kind = "datePicker"
	KindStepper          Kind = "stepper"
	KindSegmentedControl Kind = "segmentedControl"

	KindProgressView   Kind = "progressView"
	KindNavigationLink Kind = "navigationLink"
	KindAlert          Kind = "alert"
	KindActionSheet    Kind = "actionSheet"
)

var kinds = map[Kind]struct{}{
	KindText: {}, KindButton: {}, KindImage: {}, KindSpacer: {}, KindDivider: {},
	KindVStack: {}, KindHStack: {}, KindScroll: {}, KindGrid: {}, KindSection: {},
	KindList: {},
	KindTextField: {}, KindToggle: {}, KindSlider: {}, KindPicker: {},
	KindDatePicker: {}, KindStepper: {}, KindSegmentedControl: {},
	KindProgressView: {}, KindNavigationLink: {}, KindAlert: {}, KindActionSheet: {},
}

func KnownKind(k Kind) bool {
	_, ok := kinds[k]
	return ok
}

// IsInput reports whether the kind holds a live technician-entered value and
// therefore requires a valueKey.
func (k Kind) IsInput() bool {
	switch k {
	case KindTextField, KindToggle, KindSlider, KindPicker, KindDatePicker, KindStepper, KindSegmentedControl:
		return true
	}
	return false
}

// IsContainer reports whether the kind renders an owned child sequence.
func (k Kind) IsContainer() bool {
	switch k {
	case KindVStack, KindHStack, KindScroll, KindGrid, KindSection:
		return true
	}
	return false
}

// ComponentDescriptor is one node of the declarative UI tree. Children are
// owned by value, so the tree is finite and acyclic by construction. Style
// fields are opaque tokens passed through to the rendering surface.
type ComponentDescriptor struct {
	ID   string `json:"id"`
	Kind Kind   `json:"type"`

	Text        string `json:"text,omitempty"`
	Label       string `json:"label,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`

	Font            string   `json:"font,omitempty"`
	Color           string   `json:"color,omitempty"`
	BackgroundColor string   `json:"backgroundColor,omitempty"`
	Padding         *float64 `json:"padding,omitempty"`
	Spacing         *float64 `json:"spacing,omitempty"`

	Children     []ComponentDescriptor `json:"children,omitempty"`
	ItemTemplate *ComponentDescriptor  `json:"itemView,omitempty"`

	BindingKey      string `json:"bindingKey,omitempty"`
	ConditionKey    string `json:"conditionKey,omitempty"`
	ValueKey        string `json:"valueKey,omitempty"`
	PresentationKey string `json:"presentationKey,omitempty"`

	Options  []string `json:"options,omitempty"`
	MinValue *float64 `json:"minValue,omitempty"`
	MaxValue *float64 `json:"maxValue,omitempty"`
	Step     *float64 `json:"step,omitempty"`

	Destination string   `json:"destination,omitempty"`
	ImageName   string   `json:"imageName,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	Progress    *float64 `json:"progress,omitempty"`
	ActionKey   string   `json:"actionKey,omitempty"`
}

// Walk visits d and every descendant depth-first, children in order, the
// item template last. fn returning false prunes the subtree.
func Walk(d *ComponentDescriptor, fn func(*ComponentDescriptor) bool) {
	if d == nil || !fn(d) {
		return
	}
	for i := range d.Children {
		Walk(&d.Children[i], fn)
	}
	if d.ItemTemplate != nil {
		Walk(d.ItemTemplate, fn)
	}
}
