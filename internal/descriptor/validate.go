package descriptor

import "fmt"

// ValidationError reports the first structural rule a single node violates.
// It is contained to that node: callers render a placeholder for the node
// and continue with its siblings.
type ValidationError struct {
	NodeID string
	Kind   Kind
	Msg    string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("component %s (%s): %s", e.NodeID, e.Kind, e.Msg)
}

func invalid(d *ComponentDescriptor, format string, args ...any) *ValidationError {
	return &ValidationError{NodeID: d.ID, Kind: d.Kind, Msg: fmt.Sprintf(format, args...)}
}

// Validate checks one node against the structural rules, in a fixed order,
// and returns the first violation or nil. Children are not descended into;
// use ValidateTree for whole-tree checking.
func Validate(d *ComponentDescriptor) *ValidationError {
	if d.Kind == "" {
		return invalid(d, "missing type discriminant")
	}
	if !KnownKind(d.Kind) {
		return invalid(d, "unknown component type %q", d.Kind)
	}
	if d.ID == "" {
		return invalid(d, "id must not be empty")
	}
	if d.Kind.IsInput() && d.ValueKey == "" {
		return invalid(d, "input component requires a valueKey")
	}
	if (d.Kind == KindPicker || d.Kind == KindSegmentedControl) && len(d.Options) == 0 {
		return invalid(d, "requires a non-empty options list")
	}
	if d.Kind == KindSlider || d.Kind == KindStepper {
		if d.MinValue == nil || d.MaxValue == nil {
			return invalid(d, "requires minValue and maxValue")
		}
		if *d.MinValue >= *d.MaxValue {
			return invalid(d, "minValue %v must be less than maxValue %v", *d.MinValue, *d.MaxValue)
		}
	}
	if d.Kind.IsContainer() && len(d.Children) == 0 {
		return invalid(d, "container requires at least one child")
	}
	if d.Kind == KindList && d.ItemTemplate == nil {
		return invalid(d, "list requires an itemView template")
	}
	if d.Kind == KindNavigationLink && d.Destination == "" {
		return invalid(d, "navigationLink requires a destination")
	}
	if (d.Kind == KindAlert || d.Kind == KindActionSheet) && d.PresentationKey == "" {
		return invalid(d, "requires a presentationKey binding")
	}
	if d.Kind == KindImage && d.ImageName == "" && d.ImageURL == "" {
		return invalid(d, "image requires an asset name or a URL")
	}
	if d.Kind == KindProgressView && d.Progress != nil && (*d.Progress < 0 || *d.Progress > 1) {
		return invalid(d, "progress %v outside [0,1]", *d.Progress)
	}
	return nil
}

// ValidateTree validates every node of the tree depth-first and collects one
// error per offending node. A nil result means the whole tree is renderable.
func ValidateTree(d *ComponentDescriptor) []ValidationError {
	var errs []ValidationError
	Walk(d, func(n *ComponentDescriptor) bool {
		if err := Validate(n); err != nil {
			errs = append(errs, *err)
		}
		return true
	})
	return errs
}
