// Package store holds every locally-entered form value a rendered screen can
// produce, keyed by composite key so the same control key can carry
// independent values per entity. The store is the write path for offline
// capture: while connectivity is down every set (except presentation flags)
// also queues a pending action for later replay.
//
// The store is not safe for concurrent use. All access is confined to the
// session's single writer.
package store

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
)

// CompositeKey addresses one value: "<valueKey>_<entityID>" with "global"
// standing in when no entity scopes the value.
type CompositeKey string

// Key builds the composite address for a control key and an optional entity.
func Key(valueKey, entityID string) CompositeKey {
	if entityID == "" {
		entityID = "global"
	}
	return CompositeKey(valueKey + "_" + entityID)
}

// ValueKind names which typed mapping a change touched.
type ValueKind string

const (
	ValueText         ValueKind = "text"
	ValueToggle       ValueKind = "toggle"
	ValueSlider       ValueKind = "slider"
	ValueStepper      ValueKind = "stepper"
	ValuePicker       ValueKind = "picker"
	ValueDate         ValueKind = "date"
	ValueSegmented    ValueKind = "segmented"
	ValueMultiSelect  ValueKind = "multiSelect"
	ValuePresentation ValueKind = "presentation"
)

// Change notifies a subscriber that one keyed value was written.
type Change struct {
	Key  CompositeKey
	Kind ValueKind
}

// ActionSink receives the pending action a setter emits while offline. The
// offline action queue implements it.
type ActionSink interface {
	Enqueue(domain.PendingAction)
}

// InputValueStore is a set of parallel typed mappings from composite key to
// value. A key is meaningful only within one mapping; collisions across
// mappings are not reconciled. Setters never fail and getters return zero
// values for missing keys.
type InputValueStore struct {
	// Now is the clock stamped onto queued actions. Swappable in tests.
	Now func() time.Time

	online func() bool
	sink   ActionSink

	text         map[CompositeKey]string
	toggles      map[CompositeKey]bool
	sliders      map[CompositeKey]float64
	steppers     map[CompositeKey]float64
	pickers      map[CompositeKey]string
	dates        map[CompositeKey]string
	segments     map[CompositeKey]int
	multiSelects map[CompositeKey][]string
	presentation map[CompositeKey]bool

	subscribers []chan Change
}

// New builds a store. online reports the ambient connectivity flag; sink
// receives queued actions while it reports false. Either may be nil: a nil
// online probe means always connected, a nil sink drops actions.
func New(online func() bool, sink ActionSink) *InputValueStore {
	return &InputValueStore{
		Now:          time.Now,
		online:       online,
		sink:         sink,
		text:         make(map[CompositeKey]string),
		toggles:      make(map[CompositeKey]bool),
		sliders:      make(map[CompositeKey]float64),
		steppers:     make(map[CompositeKey]float64),
		pickers:      make(map[CompositeKey]string),
		dates:        make(map[CompositeKey]string),
		segments:     make(map[CompositeKey]int),
		multiSelects: make(map[CompositeKey][]string),
		presentation: make(map[CompositeKey]bool),
	}
}

// Subscribe returns a channel receiving one Change per write. Delivery is
// best-effort: a full subscriber drops changes rather than blocking the
// writer.
func (s *InputValueStore) Subscribe(buffer int) <-chan Change {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

func (s *InputValueStore) notify(key CompositeKey, kind ValueKind) {
	for _, ch := range s.subscribers {
		select {
		case ch <- Change{Key: key, Kind: kind}:
		default:
		}
	}
}

func (s *InputValueStore) queue(kind domain.ActionKind, key CompositeKey, value string) {
	if s.sink == nil || s.online == nil || s.online() {
		return
	}
	s.sink.Enqueue(domain.PendingAction{
		Kind:      kind,
		Key:       string(key),
		Value:     value,
		Timestamp: s.Now(),
	})
}

func (s *InputValueStore) SetText(key CompositeKey, value string) {
	s.text[key] = value
	s.queue(domain.ActionTextInput, key, value)
	s.notify(key, ValueText)
}

func (s *InputValueStore) Text(key CompositeKey) string {
	return s.text[key]
}

func (s *InputValueStore) SetToggle(key CompositeKey, value bool) {
	s.toggles[key] = value
	s.queue(domain.ActionToggleInput, key, strconv.FormatBool(value))
	s.notify(key, ValueToggle)
}

func (s *InputValueStore) Toggle(key CompositeKey) bool {
	return s.toggles[key]
}

func (s *InputValueStore) SetSlider(key CompositeKey, value float64) {
	s.sliders[key] = value
	s.queue(domain.ActionSliderInput, key, formatFloat(value))
	s.notify(key, ValueSlider)
}

func (s *InputValueStore) Slider(key CompositeKey) float64 {
	return s.sliders[key]
}

func (s *InputValueStore) SetStepper(key CompositeKey, value float64) {
	s.steppers[key] = value
	s.queue(domain.ActionStepperInput, key, formatFloat(value))
	s.notify(key, ValueStepper)
}

func (s *InputValueStore) Stepper(key CompositeKey) float64 {
	return s.steppers[key]
}

func (s *InputValueStore) SetPicker(key CompositeKey, value string) {
	s.pickers[key] = value
	s.queue(domain.ActionPickerInput, key, value)
	s.notify(key, ValuePicker)
}

func (s *InputValueStore) Picker(key CompositeKey) string {
	return s.pickers[key]
}

// SetDate stores the date in RFC 3339 form; the same serialization rides the
// queued action.
func (s *InputValueStore) SetDate(key CompositeKey, value time.Time) {
	serialized := value.UTC().Format(time.RFC3339)
	s.dates[key] = serialized
	s.queue(domain.ActionDateInput, key, serialized)
	s.notify(key, ValueDate)
}

// Date returns the stored date, or the zero time when absent.
func (s *InputValueStore) Date(key CompositeKey) time.Time {
	raw, ok := s.dates[key]
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *InputValueStore) SetSegmented(key CompositeKey, value int) {
	s.segments[key] = value
	s.queue(domain.ActionSegmentedInput, key, strconv.Itoa(value))
	s.notify(key, ValueSegmented)
}

func (s *InputValueStore) Segmented(key CompositeKey) int {
	return s.segments[key]
}

func (s *InputValueStore) SetMultiSelect(key CompositeKey, value []string) {
	s.multiSelects[key] = value
	serialized, _ := json.Marshal(value)
	s.queue(domain.ActionMultiSelectInput, key, string(serialized))
	s.notify(key, ValueMultiSelect)
}

func (s *InputValueStore) MultiSelect(key CompositeKey) []string {
	return s.multiSelects[key]
}

// SetPresentation records sheet/alert visibility. Presentation flags are
// local-only and never queued for sync.
func (s *InputValueStore) SetPresentation(key CompositeKey, value bool) {
	s.presentation[key] = value
	s.notify(key, ValuePresentation)
}

func (s *InputValueStore) Presentation(key CompositeKey) bool {
	return s.presentation[key]
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
