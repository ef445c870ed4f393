package queue

import (
	"testing"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
)

func action(kind domain.ActionKind, key string) domain.PendingAction {
	return domain.PendingAction{Kind: kind, Key: key, Timestamp: time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)}
}

func TestDrainPreservesOrderAndEmpties(t *testing.T) {
	q := New()
	q.Enqueue(action(domain.ActionStart, ""))
	q.Enqueue(action(domain.ActionTextInput, "notes_global"))
	q.Enqueue(action(domain.ActionComplete, ""))

	drained := q.Drain()
	if len(drained) != 3 {
		t.Fatalf("drained %d actions, want 3", len(drained))
	}
	want := []domain.ActionKind{domain.ActionStart, domain.ActionTextInput, domain.ActionComplete}
	for i, k := range want {
		if drained[i].Kind != k {
			t.Fatalf("position %d: got %s, want %s", i, drained[i].Kind, k)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after drain: %d", q.Len())
	}
	if again := q.Drain(); len(again) != 0 {
		t.Fatalf("second drain returned %d actions", len(again))
	}
}

func TestNoDeduplication(t *testing.T) {
	q := New()
	q.Enqueue(action(domain.ActionTextInput, "notes_global"))
	q.Enqueue(action(domain.ActionTextInput, "notes_global"))
	if q.Len() != 2 {
		t.Fatalf("repeated writes to one key must both queue, got %d", q.Len())
	}
}

func TestRequeuePutsTailFirst(t *testing.T) {
	q := New()
	q.Enqueue(action(domain.ActionStart, ""))
	tail := []domain.PendingAction{
		action(domain.ActionTextInput, "notes_global"),
		action(domain.ActionComplete, ""),
	}
	q.Requeue(tail)

	got := q.Drain()
	want := []domain.ActionKind{domain.ActionTextInput, domain.ActionComplete, domain.ActionStart}
	if len(got) != len(want) {
		t.Fatalf("len %d, want %d", len(got), len(want))
	}
	for i, k := range want {
		if got[i].Kind != k {
			t.Fatalf("position %d: got %s, want %s", i, got[i].Kind, k)
		}
	}
}

func TestSnapshotDoesNotDrain(t *testing.T) {
	q := New()
	q.Enqueue(action(domain.ActionSkip, ""))
	snap := q.Snapshot()
	if len(snap) != 1 || q.Len() != 1 {
		t.Fatalf("snapshot disturbed the queue: snap=%d len=%d", len(snap), q.Len())
	}
	snap[0].Kind = domain.ActionMove
	if q.Snapshot()[0].Kind != domain.ActionSkip {
		t.Fatalf("snapshot aliases queue storage")
	}
}
