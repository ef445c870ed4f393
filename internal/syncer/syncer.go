// Package syncer replays the offline action queue to the backend once
// connectivity returns. Replay is all-of-it, in insertion order, with no
// compaction: repeated writes to one key are delivered as often as they were
// made. Delivery failure never loses actions — the undelivered tail goes
// back to the front of the queue and a later flush retries it.
package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
	"github.com/jbriggs-source/PestGenie-sub001/internal/queue"
)

// DefaultRetryInterval paces re-flush attempts while online with a non-empty
// queue.
const DefaultRetryInterval = 2 * time.Second

// Deliverer ships an ordered action batch to the backend. It returns how
// many actions of the prefix were durably accepted; on error the flusher
// re-queues everything past that point.
type Deliverer interface {
	Deliver(ctx context.Context, actions []domain.PendingAction) (int, error)
}

// SyncError reports a flush that could not deliver the whole queue.
type SyncError struct {
	Delivered int
	Remaining int
	Err       error
}

func (e SyncError) Error() string {
	return fmt.Sprintf("sync delivered %d actions, %d re-queued: %v", e.Delivered, e.Remaining, e.Err)
}

func (e SyncError) Unwrap() error { return e.Err }

// Flusher drains the queue and replays it through the Deliverer. It runs on
// the session's single writer; nothing here locks.
type Flusher struct {
	Queue     *queue.ActionQueue
	Deliverer Deliverer
	Log       *slog.Logger
}

func (f *Flusher) log() *slog.Logger {
	if f.Log != nil {
		return f.Log
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Flush drains and delivers the queue. On failure the undelivered tail is
// put back at the front, order intact, and a SyncError describes what
// happened. An empty queue flushes trivially.
func (f *Flusher) Flush(ctx context.Context) error {
	actions := f.Queue.Drain()
	if len(actions) == 0 {
		return nil
	}
	delivered, err := f.Deliverer.Deliver(ctx, actions)
	if err != nil {
		if delivered < 0 {
			delivered = 0
		}
		if delivered > len(actions) {
			delivered = len(actions)
		}
		tail := actions[delivered:]
		f.Queue.Requeue(tail)
		f.log().Warn("sync flush failed", "delivered", delivered, "requeued", len(tail), "err", err)
		return SyncError{Delivered: delivered, Remaining: len(tail), Err: err}
	}
	f.log().Info("sync flushed", "actions", len(actions))
	return nil
}
