package lifecycle

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
	"github.com/jbriggs-source/PestGenie-sub001/internal/queue"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
}

func routeJobs() []domain.Job {
	scheduled := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	return []domain.Job{
		{ID: "job-a", CustomerName: "Alvarez", Status: domain.JobPending, ScheduledAt: scheduled},
		{ID: "job-b", CustomerName: "Bishop", Status: domain.JobPending, ScheduledAt: scheduled.Add(time.Hour)},
		{ID: "job-c", CustomerName: "Chen", Status: domain.JobPending, ScheduledAt: scheduled.Add(2 * time.Hour)},
	}
}

func newTestController(online *bool) (*Controller, *queue.ActionQueue) {
	q := queue.New()
	c := NewController(routeJobs(), func() bool { return *online }, q)
	c.Now = fixedNow
	return c, q
}

func TestStartFromPending(t *testing.T) {
	online := true
	c, _ := newTestController(&online)
	if err := c.Start("job-a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	job, _ := c.Job("job-a")
	if job.Status != domain.JobInProgress {
		t.Fatalf("status %s", job.Status)
	}
	if job.StartTime == nil || !job.StartTime.Equal(fixedNow()) {
		t.Fatalf("start time not recorded: %v", job.StartTime)
	}
}

func TestStartFromSkipped(t *testing.T) {
	online := true
	c, _ := newTestController(&online)
	if _, err := c.RequestSkip("job-a"); err != nil {
		t.Fatalf("request skip: %v", err)
	}
	if err := c.Commit("customer_unavailable"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := c.Start("job-a"); err != nil {
		t.Fatalf("start after skip: %v", err)
	}
	job, _ := c.Job("job-a")
	if job.Status != domain.JobInProgress {
		t.Fatalf("status %s", job.Status)
	}
}

func TestStartRejectedFromIllegalStatus(t *testing.T) {
	online := true
	c, _ := newTestController(&online)
	if err := c.Start("job-a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	before, _ := c.Job("job-a")

	err := c.Start("job-a")
	var v ViolationError
	if !errors.As(err, &v) {
		t.Fatalf("want ViolationError, got %v", err)
	}
	if v.From != domain.JobInProgress {
		t.Fatalf("violation records wrong source: %+v", v)
	}
	after, _ := c.Job("job-a")
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("rejected start mutated the job")
	}
}

func TestCompleteRequiresSignature(t *testing.T) {
	online := true
	c, _ := newTestController(&online)
	if err := c.Start("job-a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := c.Complete("job-a", "")
	var v ViolationError
	if !errors.As(err, &v) || v.Reason != "signature required" {
		t.Fatalf("want signature violation, got %v", err)
	}
	job, _ := c.Job("job-a")
	if job.Status != domain.JobInProgress {
		t.Fatalf("rejected complete changed status to %s", job.Status)
	}
}

func TestCompleteOnlyFromInProgress(t *testing.T) {
	online := true
	c, _ := newTestController(&online)
	err := c.Complete("job-a", "sig-data")
	var v ViolationError
	if !errors.As(err, &v) {
		t.Fatalf("want ViolationError for pending job, got %v", err)
	}

	if err := c.Start("job-a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Complete("job-a", "sig-data"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	job, _ := c.Job("job-a")
	if job.Status != domain.JobCompleted {
		t.Fatalf("status %s", job.Status)
	}
	if job.CompletionTime == nil || job.Signature == nil || *job.Signature != "sig-data" {
		t.Fatalf("completion not recorded: %+v", job)
	}

	// A second complete is rejected, not silently re-applied.
	err = c.Complete("job-a", "sig-data")
	if !errors.As(err, &v) {
		t.Fatalf("want rejection on double complete, got %v", err)
	}
}

func TestUnknownJob(t *testing.T) {
	online := true
	c, _ := newTestController(&online)
	if err := c.Start("job-zz"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("got %v", err)
	}
	if _, err := c.RequestSkip("job-zz"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestRequestDoesNotMutateAndCancelRestoresNothing(t *testing.T) {
	online := true
	c, _ := newTestController(&online)
	before := c.Jobs()

	if _, err := c.RequestSkip("job-b"); err != nil {
		t.Fatalf("request skip: %v", err)
	}
	if !reflect.DeepEqual(before, c.Jobs()) {
		t.Fatalf("request mutated job state")
	}
	c.Cancel()
	if !reflect.DeepEqual(before, c.Jobs()) {
		t.Fatalf("cancel left residue")
	}
	if _, ok := c.Intent(); ok {
		t.Fatalf("intent survived cancel")
	}

	// Commit after cancel has nothing to apply.
	err := c.Commit("customer_unavailable")
	var v ViolationError
	if !errors.As(err, &v) || v.Reason != "no pending intent" {
		t.Fatalf("got %v", err)
	}
}

func TestNewRequestReplacesUncommittedIntent(t *testing.T) {
	online := true
	c, _ := newTestController(&online)
	if _, err := c.RequestSkip("job-a"); err != nil {
		t.Fatalf("request skip: %v", err)
	}
	replaced, err := c.RequestMove(1, 0)
	if err != nil {
		t.Fatalf("request move: %v", err)
	}
	if replaced == nil || replaced.Kind != IntentSkip || replaced.JobID != "job-a" {
		t.Fatalf("replaced intent not surfaced: %+v", replaced)
	}
	intent, ok := c.Intent()
	if !ok || intent.Kind != IntentMove {
		t.Fatalf("last request did not win: %+v", intent)
	}

	// Committing applies only the surviving intent.
	if err := c.Commit("schedule_change"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	jobs := c.Jobs()
	if jobs[0].ID != "job-b" || jobs[1].ID != "job-a" {
		t.Fatalf("move not applied: %v", []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})
	}
	if jobs[1].Status == domain.JobSkipped {
		t.Fatalf("replaced skip intent was applied")
	}
}

func TestCommitRequiresReasonCode(t *testing.T) {
	online := true
	c, _ := newTestController(&online)
	if _, err := c.RequestSkip("job-a"); err != nil {
		t.Fatalf("request skip: %v", err)
	}
	err := c.Commit("")
	var v ViolationError
	if !errors.As(err, &v) || v.Reason != "reason code required" {
		t.Fatalf("got %v", err)
	}
	if _, ok := c.Intent(); !ok {
		t.Fatalf("failed commit must keep the intent for retry")
	}
}

func TestSkipCommitShelvesFromAnyStatus(t *testing.T) {
	online := true
	c, _ := newTestController(&online)
	if err := c.Start("job-a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Complete("job-a", "sig"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := c.RequestSkip("job-a"); err != nil {
		t.Fatalf("request skip: %v", err)
	}
	if err := c.Commit("rescheduled"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	job, _ := c.Job("job-a")
	if job.Status != domain.JobSkipped {
		t.Fatalf("status %s", job.Status)
	}
	if _, ok := c.Intent(); ok {
		t.Fatalf("intent survived commit")
	}
}

func TestMoveReorders(t *testing.T) {
	online := true
	c, _ := newTestController(&online)
	if _, err := c.RequestMove(0, 2); err != nil {
		t.Fatalf("request move: %v", err)
	}
	if err := c.Commit("route_optimization"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	jobs := c.Jobs()
	got := []string{jobs[0].ID, jobs[1].ID, jobs[2].ID}
	want := []string{"job-b", "job-c", "job-a"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order %v, want %v", got, want)
	}
}

func TestMoveIndexValidation(t *testing.T) {
	online := true
	c, _ := newTestController(&online)
	for _, pair := range [][2]int{{-1, 0}, {0, 3}, {3, 0}} {
		_, err := c.RequestMove(pair[0], pair[1])
		var v ViolationError
		if !errors.As(err, &v) {
			t.Fatalf("move %v: got %v", pair, err)
		}
	}
}

func TestOfflineLifecycleActionsQueueInOrder(t *testing.T) {
	online := false
	c, q := newTestController(&online)
	if err := c.Start("job-a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Complete("job-a", "sig-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := c.RequestSkip("job-b"); err != nil {
		t.Fatalf("request skip: %v", err)
	}
	if err := c.Commit("customer_unavailable"); err != nil {
		t.Fatalf("commit skip: %v", err)
	}
	if _, err := c.RequestMove(2, 0); err != nil {
		t.Fatalf("request move: %v", err)
	}
	if err := c.Commit("route_optimization"); err != nil {
		t.Fatalf("commit move: %v", err)
	}

	actions := q.Drain()
	if len(actions) != 4 {
		t.Fatalf("queued %d actions, want 4", len(actions))
	}
	if actions[0].Kind != domain.ActionStart || actions[0].EntityID != "job-a" {
		t.Fatalf("action 0: %+v", actions[0])
	}
	if actions[1].Kind != domain.ActionComplete || actions[1].Value != "sig-1" {
		t.Fatalf("action 1: %+v", actions[1])
	}
	if actions[2].Kind != domain.ActionSkip || actions[2].EntityID != "job-b" || actions[2].Value != "customer_unavailable" {
		t.Fatalf("action 2: %+v", actions[2])
	}
	if actions[3].Kind != domain.ActionMove || actions[3].Value != "2:0" || actions[3].Key != "route_optimization" {
		t.Fatalf("action 3: %+v", actions[3])
	}
	for i, a := range actions {
		if a.Timestamp != fixedNow() {
			t.Fatalf("action %d missing timestamp", i)
		}
	}
}

func TestOnlineLifecycleQueuesNothing(t *testing.T) {
	online := true
	c, q := newTestController(&online)
	if err := c.Start("job-a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Complete("job-a", "sig"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("online transitions queued %d actions", q.Len())
	}
}

func TestStatusCounts(t *testing.T) {
	online := true
	c, _ := newTestController(&online)
	if err := c.Start("job-a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	counts := c.StatusCounts()
	if counts[domain.JobInProgress] != 1 || counts[domain.JobPending] != 2 {
		t.Fatalf("counts %v", counts)
	}
}

func TestEnsureTransitionTable(t *testing.T) {
	legal := [][2]domain.JobStatus{
		{domain.JobPending, domain.JobInProgress},
		{domain.JobPending, domain.JobSkipped},
		{domain.JobInProgress, domain.JobCompleted},
		{domain.JobInProgress, domain.JobSkipped},
		{domain.JobCompleted, domain.JobSkipped},
		{domain.JobSkipped, domain.JobInProgress},
		{domain.JobSkipped, domain.JobSkipped},
	}
	for _, pair := range legal {
		if err := EnsureTransition(pair[0], pair[1]); err != nil {
			t.Fatalf("%s -> %s rejected: %v", pair[0], pair[1], err)
		}
	}
	illegal := [][2]domain.JobStatus{
		{domain.JobPending, domain.JobCompleted},
		{domain.JobCompleted, domain.JobInProgress},
		{domain.JobCompleted, domain.JobCompleted},
		{domain.JobInProgress, domain.JobInProgress},
		{domain.JobSkipped, domain.JobCompleted},
	}
	for _, pair := range illegal {
		if err := EnsureTransition(pair[0], pair[1]); err == nil {
			t.Fatalf("%s -> %s accepted", pair[0], pair[1])
		}
	}
}
