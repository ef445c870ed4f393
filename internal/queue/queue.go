// Package queue is the ordered log of mutations applied locally while the
// device was offline. Producers only append; the sync flusher drains the
// whole list on reconnect and replays it in insertion order. Actions are
// never merged or deduplicated, even when they target the same key.
//
// The queue is not safe for concurrent use; it lives on the session's single
// writer.
package queue

import (
	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
)

type ActionQueue struct {
	actions []domain.PendingAction
}

func New() *ActionQueue {
	return &ActionQueue{}
}

// Enqueue appends one action. Insertion order is the replay order.
func (q *ActionQueue) Enqueue(a domain.PendingAction) {
	q.actions = append(q.actions, a)
}

// Drain returns every queued action in insertion order and empties the
// queue. Callers own the returned slice.
func (q *ActionQueue) Drain() []domain.PendingAction {
	drained := q.actions
	q.actions = nil
	return drained
}

// Requeue puts an undelivered tail back at the front, ahead of anything
// queued since, preserving original order.
func (q *ActionQueue) Requeue(actions []domain.PendingAction) {
	if len(actions) == 0 {
		return
	}
	q.actions = append(append([]domain.PendingAction{}, actions...), q.actions...)
}

func (q *ActionQueue) Len() int {
	return len(q.actions)
}

// Snapshot returns a copy of the queued actions without draining.
func (q *ActionQueue) Snapshot() []domain.PendingAction {
	if len(q.actions) == 0 {
		return nil
	}
	out := make([]domain.PendingAction, len(q.actions))
	copy(out, q.actions)
	return out
}
