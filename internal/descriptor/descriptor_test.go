package descriptor

import (
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"testing"
)

func TestDecodeAssignsIDs(t *testing.T) {
	payload := []byte(`{"type":"vstack","children":[{"type":"text","text":"Hello"},{"type":"text","id":"greeting","text":"World"}]}`)
	d, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.ID == "" {
		t.Fatalf("root id not assigned")
	}
	if d.Children[0].ID == "" {
		t.Fatalf("child id not assigned")
	}
	if d.Children[1].ID != "greeting" {
		t.Fatalf("explicit id rewritten: %q", d.Children[1].ID)
	}
}

func TestDecodeEncodeDecodeIdempotent(t *testing.T) {
	payload := []byte(`{"type":"section","label":"Visit","children":[{"type":"textField","valueKey":"notes","placeholder":"Notes"},{"type":"toggle","valueKey":"confirmed","label":"Confirmed"}]}`)
	first, err := Decode(payload)
	if err != nil {
		t.Fatalf("first decode: %v", err)
	}
	encoded, err := Encode(first)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := Decode(encoded)
	if err != nil {
		t.Fatalf("second decode: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("round trip changed tree:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestDecodeScreenVersionGate(t *testing.T) {
	for _, version := range []int{1, 2, 3, 4, 5} {
		payload := []byte(`{"version":` + itoa(version) + `,"component":{"type":"text","text":"ok"}}`)
		if _, err := DecodeScreen(payload); err != nil {
			t.Fatalf("version %d rejected: %v", version, err)
		}
	}
	for _, version := range []int{0, -1, 6, 99} {
		payload := []byte(`{"version":` + itoa(version) + `,"component":{"type":"text"}}`)
		_, err := DecodeScreen(payload)
		var ve VersionError
		if !errors.As(err, &ve) {
			t.Fatalf("version %d: want VersionError, got %v", version, err)
		}
		if ve.Version != version {
			t.Fatalf("version %d: error carries %d", version, ve.Version)
		}
	}
}

func TestDecodeScreenMissingComponent(t *testing.T) {
	for _, payload := range []string{`{"version":1}`, `{"version":1,"component":null}`} {
		_, err := DecodeScreen([]byte(payload))
		var de DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("payload %s: want DecodeError, got %v", payload, err)
		}
	}
}

func TestDecodeUnknownRootKind(t *testing.T) {
	_, err := Decode([]byte(`{"type":"carousel"}`))
	var de DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("want DecodeError, got %v", err)
	}
	if !strings.Contains(de.Error(), "carousel") {
		t.Fatalf("error does not name the bad type: %v", de)
	}
}

func TestUnknownChildKindContained(t *testing.T) {
	payload := []byte(`{"type":"vstack","children":[{"type":"carousel"},{"type":"text","text":"still fine"}]}`)
	d, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode should contain child failures: %v", err)
	}
	errs := ValidateTree(&d)
	if len(errs) != 1 {
		t.Fatalf("want 1 validation error, got %d: %v", len(errs), errs)
	}
	if errs[0].Kind != "carousel" {
		t.Fatalf("wrong node flagged: %+v", errs[0])
	}
	if err := Validate(&d.Children[1]); err != nil {
		t.Fatalf("sibling flagged: %v", err)
	}
}

func TestValidateRules(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	cases := []struct {
		name string
		node ComponentDescriptor
		want string
	}{
		{"empty id", ComponentDescriptor{Kind: KindText}, "id must not be empty"},
		{"input without valueKey", ComponentDescriptor{ID: "a", Kind: KindTextField}, "requires a valueKey"},
		{"picker without options", ComponentDescriptor{ID: "a", Kind: KindPicker, ValueKey: "k"}, "options"},
		{"segmented without options", ComponentDescriptor{ID: "a", Kind: KindSegmentedControl, ValueKey: "k"}, "options"},
		{"slider missing bounds", ComponentDescriptor{ID: "a", Kind: KindSlider, ValueKey: "k"}, "minValue and maxValue"},
		{"slider inverted bounds", ComponentDescriptor{ID: "a", Kind: KindSlider, ValueKey: "k", MinValue: f(10), MaxValue: f(5)}, "less than"},
		{"stepper equal bounds", ComponentDescriptor{ID: "a", Kind: KindStepper, ValueKey: "k", MinValue: f(3), MaxValue: f(3)}, "less than"},
		{"empty container", ComponentDescriptor{ID: "a", Kind: KindVStack}, "at least one child"},
		{"list without template", ComponentDescriptor{ID: "a", Kind: KindList}, "itemView"},
		{"navigationLink without destination", ComponentDescriptor{ID: "a", Kind: KindNavigationLink}, "destination"},
		{"alert without presentationKey", ComponentDescriptor{ID: "a", Kind: KindAlert}, "presentationKey"},
		{"actionSheet without presentationKey", ComponentDescriptor{ID: "a", Kind: KindActionSheet}, "presentationKey"},
		{"image without source", ComponentDescriptor{ID: "a", Kind: KindImage}, "asset name or a URL"},
		{"progress out of range", ComponentDescriptor{ID: "a", Kind: KindProgressView, Progress: f(1.5)}, "outside [0,1]"},
	}
	for _, tc := range cases {
		err := Validate(&tc.node)
		if err == nil {
			t.Fatalf("%s: expected violation", tc.name)
		}
		if !strings.Contains(err.Msg, tc.want) {
			t.Fatalf("%s: got %q, want substring %q", tc.name, err.Msg, tc.want)
		}
	}
}

func TestValidateAccepts(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	nodes := []ComponentDescriptor{
		{ID: "a", Kind: KindText, Text: "plain"},
		{ID: "a", Kind: KindSpacer},
		{ID: "a", Kind: KindSlider, ValueKey: "level", MinValue: f(0), MaxValue: f(10)},
		{ID: "a", Kind: KindPicker, ValueKey: "area", Options: []string{"kitchen", "garage"}},
		{ID: "a", Kind: KindImage, ImageName: "logo"},
		{ID: "a", Kind: KindImage, ImageURL: "https://example.com/x.png"},
		{ID: "a", Kind: KindProgressView},
		{ID: "a", Kind: KindProgressView, Progress: f(0)},
		{ID: "a", Kind: KindProgressView, Progress: f(1)},
		{ID: "a", Kind: KindAlert, PresentationKey: "showAlert"},
	}
	for _, n := range nodes {
		if err := Validate(&n); err != nil {
			t.Fatalf("%s rejected: %v", n.Kind, err)
		}
	}
}

func TestValidateTreeIndependentErrors(t *testing.T) {
	payload := []byte(`{"type":"vstack","children":[
		{"type":"slider","valueKey":"dose","minValue":10,"maxValue":5},
		{"type":"text","text":"fine"},
		{"type":"picker","valueKey":"area","options":[]}
	]}`)
	d, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	errs := ValidateTree(&d)
	if len(errs) != 2 {
		t.Fatalf("want 2 independent errors, got %d: %v", len(errs), errs)
	}
	if errs[0].Kind != KindSlider || errs[1].Kind != KindPicker {
		t.Fatalf("wrong nodes flagged: %v", errs)
	}
}

func TestValidateTreeDescendsItemTemplate(t *testing.T) {
	payload := []byte(`{"type":"list","itemView":{"type":"textField"}}`)
	d, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	errs := ValidateTree(&d)
	if len(errs) != 1 {
		t.Fatalf("want 1 error from the template node, got %v", errs)
	}
	if errs[0].Kind != KindTextField {
		t.Fatalf("template node not checked: %+v", errs[0])
	}
}

func TestEncodeAlwaysWritesID(t *testing.T) {
	d, err := Decode([]byte(`{"type":"divider"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, err := Encode(d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("reparse: %v", err)
	}
	id, _ := raw["id"].(string)
	if id == "" {
		t.Fatalf("encoded payload missing id: %s", data)
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
