// Package lifecycle enforces which job mutations are legal. The transition
// table is shared by the on-device controller and the backend sync engine so
// a replayed action faces exactly the rules the device enforced.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

// ViolationError is the explicit rejection for an illegal lifecycle
// operation. Illegal operations never silently no-op; callers always learn
// why nothing changed.
type ViolationError struct {
	Op     string
	JobID  string
	From   domain.JobStatus
	Reason string
}

func (e ViolationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s job %s: %s", e.Op, e.JobID, e.Reason)
	}
	return fmt.Sprintf("cannot %s job %s from status %s", e.Op, e.JobID, e.From)
}

// EnsureTransition checks one status change against the lifecycle rules:
// start moves pending or skipped work in progress, complete only finishes
// in-progress work, and skip may shelve a job from any status.
func EnsureTransition(oldStatus, newStatus domain.JobStatus) error {
	switch oldStatus {
	case domain.JobPending:
		if newStatus == domain.JobInProgress || newStatus == domain.JobSkipped {
			return nil
		}
	case domain.JobInProgress:
		if newStatus == domain.JobCompleted || newStatus == domain.JobSkipped {
			return nil
		}
	case domain.JobCompleted:
		if newStatus == domain.JobSkipped {
			return nil
		}
	case domain.JobSkipped:
		if newStatus == domain.JobInProgress || newStatus == domain.JobSkipped {
			return nil
		}
	}
	return fmt.Errorf("invalid job status transition %s -> %s", oldStatus, newStatus)
}

type IntentKind string

const (
	IntentSkip IntentKind = "skip"
	IntentMove IntentKind = "move"
)

// PendingIntent is the single uncommitted, reason-gated request. At most one
// exists; a new request replaces it.
type PendingIntent struct {
	Kind      IntentKind
	JobID     string
	FromIndex int
	ToIndex   int
}

// ActionSink receives the pending action a committed transition emits while
// offline.
type ActionSink interface {
	Enqueue(domain.PendingAction)
}

// Controller owns the ordered job list for one route session and is the only
// writer of job status. Not safe for concurrent use; it lives on the
// session's single writer.
type Controller struct {
	// Now is the clock recorded on transitions. Swappable in tests.
	Now func() time.Time

	online func() bool
	sink   ActionSink
	jobs   []domain.Job
	intent *PendingIntent
}

// NewController copies jobs (in route order) into a fresh controller. online
// reports ambient connectivity; sink receives actions queued while offline.
func NewController(jobs []domain.Job, online func() bool, sink ActionSink) *Controller {
	owned := make([]domain.Job, len(jobs))
	copy(owned, jobs)
	return &Controller{
		Now:    time.Now,
		online: online,
		sink:   sink,
		jobs:   owned,
	}
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Controller) offline() bool {
	return c.online != nil && !c.online()
}

func (c *Controller) queue(a domain.PendingAction) {
	if c.sink == nil || !c.offline() {
		return
	}
	a.Timestamp = c.now()
	c.sink.Enqueue(a)
}

// Jobs returns the ordered job list as a copy; callers cannot mutate
// controller state through it.
func (c *Controller) Jobs() []domain.Job {
	out := make([]domain.Job, len(c.jobs))
	copy(out, c.jobs)
	return out
}

// Job returns one job by id.
func (c *Controller) Job(id string) (domain.Job, bool) {
	if i := c.index(id); i >= 0 {
		return c.jobs[i], true
	}
	return domain.Job{}, false
}

// StatusCounts summarizes the route for dashboard consumers.
func (c *Controller) StatusCounts() map[domain.JobStatus]int {
	counts := make(map[domain.JobStatus]int, len(domain.JobStatuses))
	for _, j := range c.jobs {
		counts[j.Status]++
	}
	return counts
}

// Intent returns the outstanding reason-gated request, if any.
func (c *Controller) Intent() (PendingIntent, bool) {
	if c.intent == nil {
		return PendingIntent{}, false
	}
	return *c.intent, true
}

func (c *Controller) index(id string) int {
	for i := range c.jobs {
		if c.jobs[i].ID == id {
			return i
		}
	}
	return -1
}

// Start moves a pending or skipped job in progress and records the start
// time. Illegal source statuses are rejected with a ViolationError and the
// job is left unchanged.
func (c *Controller) Start(jobID string) error {
	i := c.index(jobID)
	if i < 0 {
		return ErrJobNotFound
	}
	job := &c.jobs[i]
	if err := EnsureTransition(job.Status, domain.JobInProgress); err != nil {
		return ViolationError{Op: "start", JobID: jobID, From: job.Status}
	}
	now := c.now()
	job.Status = domain.JobInProgress
	job.StartTime = &now
	c.queue(domain.PendingAction{Kind: domain.ActionStart, EntityID: jobID})
	return nil
}

// Complete finishes an in-progress job. A signature payload is required;
// completing twice is rejected, not silently re-applied.
func (c *Controller) Complete(jobID, signature string) error {
	i := c.index(jobID)
	if i < 0 {
		return ErrJobNotFound
	}
	job := &c.jobs[i]
	if signature == "" {
		return ViolationError{Op: "complete", JobID: jobID, From: job.Status, Reason: "signature required"}
	}
	if err := EnsureTransition(job.Status, domain.JobCompleted); err != nil {
		return ViolationError{Op: "complete", JobID: jobID, From: job.Status}
	}
	now := c.now()
	job.Status = domain.JobCompleted
	job.CompletionTime = &now
	job.Signature = &signature
	c.queue(domain.PendingAction{Kind: domain.ActionComplete, EntityID: jobID, Value: signature})
	return nil
}

// RequestSkip captures a skip intent without touching job state. Any
// uncommitted intent is replaced (last request wins) and returned so the
// caller can dismiss a stale reason picker.
func (c *Controller) RequestSkip(jobID string) (*PendingIntent, error) {
	if c.index(jobID) < 0 {
		return nil, ErrJobNotFound
	}
	replaced := c.intent
	c.intent = &PendingIntent{Kind: IntentSkip, JobID: jobID}
	return replaced, nil
}

// RequestMove captures a reorder intent without touching the job list. Any
// uncommitted intent is replaced (last request wins) and returned.
func (c *Controller) RequestMove(fromIndex, toIndex int) (*PendingIntent, error) {
	if fromIndex < 0 || fromIndex >= len(c.jobs) || toIndex < 0 || toIndex >= len(c.jobs) {
		return nil, ViolationError{Op: "move", Reason: fmt.Sprintf("index out of range (%d -> %d of %d)", fromIndex, toIndex, len(c.jobs))}
	}
	replaced := c.intent
	c.intent = &PendingIntent{Kind: IntentMove, JobID: c.jobs[fromIndex].ID, FromIndex: fromIndex, ToIndex: toIndex}
	return replaced, nil
}

// Commit applies the outstanding intent with the supplied reason code, queues
// the matching action when offline, and clears the intent. Skip shelves the
// job from any prior status; move removes the job from its source index and
// reinserts it at the destination.
func (c *Controller) Commit(reasonCode string) error {
	if c.intent == nil {
		return ViolationError{Op: "commit", Reason: "no pending intent"}
	}
	if reasonCode == "" {
		return ViolationError{Op: "commit", Reason: "reason code required"}
	}
	intent := *c.intent
	switch intent.Kind {
	case IntentSkip:
		i := c.index(intent.JobID)
		if i < 0 {
			c.intent = nil
			return ErrJobNotFound
		}
		c.jobs[i].Status = domain.JobSkipped
		c.queue(domain.PendingAction{Kind: domain.ActionSkip, EntityID: intent.JobID, Value: reasonCode})
	case IntentMove:
		if intent.FromIndex >= len(c.jobs) {
			c.intent = nil
			return ViolationError{Op: "move", Reason: "source index no longer valid"}
		}
		job := c.jobs[intent.FromIndex]
		c.jobs = Reorder(c.jobs, intent.FromIndex, intent.ToIndex)
		c.queue(domain.PendingAction{
			Kind:     domain.ActionMove,
			EntityID: job.ID,
			Key:      reasonCode,
			Value:    domain.MoveValue(intent.FromIndex, intent.ToIndex),
		})
	}
	c.intent = nil
	return nil
}

// Cancel discards the outstanding intent without mutating anything. Calling
// it with no intent is a harmless no-op.
func (c *Controller) Cancel() {
	c.intent = nil
}

// Reorder returns jobs with the element at from removed and reinserted at
// to. A destination past the shortened list clamps to the end. Both the
// device controller and the backend sync path reorder through this so a
// replayed move lands exactly where the technician put it.
func Reorder(jobs []domain.Job, from, to int) []domain.Job {
	moved := jobs[from]
	out := make([]domain.Job, 0, len(jobs))
	out = append(out, jobs[:from]...)
	out = append(out, jobs[from+1:]...)
	if to > len(out) {
		to = len(out)
	}
	out = append(out, domain.Job{})
	copy(out[to+1:], out[to:])
	out[to] = moved
	return out
}
