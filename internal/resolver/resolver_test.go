package resolver

import (
	"testing"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/descriptor"
	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
	"github.com/jbriggs-source/PestGenie-sub001/internal/store"
)

func newCtx(entity Entity, entityID string) (Context, *store.InputValueStore) {
	s := store.New(nil, nil)
	return Context{Entity: entity, EntityID: entityID, Store: s}, s
}

func sampleJob() domain.Job {
	return domain.Job{
		ID:           "job-1",
		CustomerName: "Dana Alvarez",
		Address:      "14 Birch Ln",
		ScheduledAt:  time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC),
		Status:       domain.JobInProgress,
		Notes:        "Gate code 4411",
		PinnedNotes:  "Beware of dog",
	}
}

func TestSubstituteReplacesVariable(t *testing.T) {
	ctx, s := newCtx(nil, "")
	s.SetText(store.Key("x", ""), "5pm")
	got := Substitute("Arrive by {{x}}", ctx)
	if got != "Arrive by 5pm" {
		t.Fatalf("got %q", got)
	}
}

func TestSubstituteMissingVariableResolvesEmpty(t *testing.T) {
	ctx, _ := newCtx(nil, "")
	got := Substitute("Arrive by {{y}} sharp", ctx)
	if got != "Arrive by  sharp" {
		t.Fatalf("literal text not preserved around empty substitution: %q", got)
	}
}

func TestSubstituteMultipleVariables(t *testing.T) {
	ctx, s := newCtx(nil, "")
	s.SetText(store.Key("first", ""), "A")
	s.SetText(store.Key("second", ""), "B")
	got := Substitute("{{first}} then {{second}} then {{first}}", ctx)
	if got != "A then B then A" {
		t.Fatalf("got %q", got)
	}
}

func TestSubstituteSinglePass(t *testing.T) {
	ctx, s := newCtx(nil, "")
	s.SetText(store.Key("x", ""), "{{y}}")
	s.SetText(store.Key("y", ""), "should not appear")
	got := Substitute("value: {{x}}", ctx)
	if got != "value: {{y}}" {
		t.Fatalf("substituted value was re-scanned: %q", got)
	}
}

func TestResolveTextBindingWins(t *testing.T) {
	job := sampleJob()
	ctx, s := newCtx(job, job.ID)
	s.SetText(store.Key("x", ""), "ignored")
	node := descriptor.ComponentDescriptor{ID: "n", Kind: descriptor.KindText, BindingKey: "customerName", Text: "{{x}}"}
	if got := ResolveText(&node, ctx); got != "Dana Alvarez" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveTextUnknownBindingKeyIsEmpty(t *testing.T) {
	job := sampleJob()
	ctx, _ := newCtx(job, job.ID)
	node := descriptor.ComponentDescriptor{ID: "n", Kind: descriptor.KindText, BindingKey: "favoriteColor", Text: "fallback"}
	if got := ResolveText(&node, ctx); got != "" {
		t.Fatalf("unknown binding key must resolve empty, got %q", got)
	}
}

func TestResolveTextFallsBackWithoutEntity(t *testing.T) {
	ctx, s := newCtx(nil, "")
	s.SetText(store.Key("eta", ""), "noon")
	node := descriptor.ComponentDescriptor{ID: "n", Kind: descriptor.KindText, BindingKey: "customerName", Text: "ETA {{eta}}"}
	if got := ResolveText(&node, ctx); got != "ETA noon" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveTextEmptyNode(t *testing.T) {
	ctx, _ := newCtx(nil, "")
	node := descriptor.ComponentDescriptor{ID: "n", Kind: descriptor.KindSpacer}
	if got := ResolveText(&node, ctx); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveLabelUsesLabel(t *testing.T) {
	job := sampleJob()
	ctx, s := newCtx(job, job.ID)
	s.SetText(store.Key("unit", ""), "oz")
	node := descriptor.ComponentDescriptor{ID: "n", Kind: descriptor.KindToggle, ValueKey: "confirmed", Label: "Dose ({{unit}})", Text: "not me"}
	if got := ResolveLabel(&node, ctx); got != "Dose (oz)" {
		t.Fatalf("got %q", got)
	}
}

func TestEntityBindingKeys(t *testing.T) {
	job := sampleJob()
	cases := map[string]string{
		"customerName":      "Dana Alvarez",
		"address":           "14 Birch Ln",
		"scheduledTime":     "5:00 PM",
		"scheduledDate":     "Jun 2, 2025",
		"scheduledDateTime": "Jun 2, 2025 5:00 PM",
		"statusDisplay":     "In Progress",
		"statusColor":       "orange",
		"pinnedNotes":       "Beware of dog",
		"notes":             "Gate code 4411",
		"id":                "job-1",
		"isPending":         "false",
		"isInProgress":      "true",
		"isCompleted":       "false",
		"isSkipped":         "false",
	}
	for key, want := range cases {
		got, ok := job.BindingValue(key)
		if !ok {
			t.Fatalf("key %q not recognized", key)
		}
		if got != want {
			t.Fatalf("key %q: got %q, want %q", key, got, want)
		}
	}
	if _, ok := job.BindingValue("nope"); ok {
		t.Fatalf("unknown key reported as known")
	}
}

func TestResolveCondition(t *testing.T) {
	job := sampleJob()
	ctx, s := newCtx(job, job.ID)
	node := descriptor.ComponentDescriptor{ID: "n", Kind: descriptor.KindSection, ConditionKey: "showDetails"}
	if ResolveCondition(&node, ctx) {
		t.Fatalf("unset condition toggle must hide children")
	}
	s.SetToggle(store.Key("showDetails", job.ID), true)
	if !ResolveCondition(&node, ctx) {
		t.Fatalf("set condition toggle must show children")
	}
	plain := descriptor.ComponentDescriptor{ID: "n", Kind: descriptor.KindSection}
	if !ResolveCondition(&plain, ctx) {
		t.Fatalf("no conditionKey must always render")
	}
}
