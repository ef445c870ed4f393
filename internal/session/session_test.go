package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/connectivity"
	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
	"github.com/jbriggs-source/PestGenie-sub001/internal/store"
)

func sessionJobs() []domain.Job {
	at := time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC)
	return []domain.Job{
		{ID: "job-a", RouteID: "route-1", Position: 0, CustomerName: "Dana Alvarez", Address: "14 Birch Ln", ScheduledAt: at, Status: domain.JobPending},
		{ID: "job-b", RouteID: "route-1", Position: 1, CustomerName: "Luis Bishop", Address: "9 Cedar Ct", ScheduledAt: at.Add(time.Hour), Status: domain.JobPending},
		{ID: "job-c", RouteID: "route-1", Position: 2, CustomerName: "Mei Chen", Address: "3 Oak Dr", ScheduledAt: at.Add(2 * time.Hour), Status: domain.JobPending},
	}
}

// captureDeliverer accepts every batch and signals notify once per call.
type captureDeliverer struct {
	mu      sync.Mutex
	batches [][]domain.PendingAction
	notify  chan struct{}
}

func newCaptureDeliverer() *captureDeliverer {
	return &captureDeliverer{notify: make(chan struct{}, 8)}
}

func (d *captureDeliverer) Deliver(_ context.Context, actions []domain.PendingAction) (int, error) {
	d.mu.Lock()
	d.batches = append(d.batches, append([]domain.PendingAction(nil), actions...))
	d.mu.Unlock()
	select {
	case d.notify <- struct{}{}:
	default:
	}
	return len(actions), nil
}

func (d *captureDeliverer) calls() [][]domain.PendingAction {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]domain.PendingAction, len(d.batches))
	copy(out, d.batches)
	return out
}

// partialDeliverer accepts firstAccept actions on the first call and fails,
// then accepts everything.
type partialDeliverer struct {
	mu          sync.Mutex
	firstAccept int
	batches     [][]domain.PendingAction
	notify      chan struct{}
}

func (d *partialDeliverer) Deliver(_ context.Context, actions []domain.PendingAction) (int, error) {
	d.mu.Lock()
	call := len(d.batches)
	d.batches = append(d.batches, append([]domain.PendingAction(nil), actions...))
	d.mu.Unlock()
	defer func() {
		select {
		case d.notify <- struct{}{}:
		default:
		}
	}()
	if call == 0 {
		n := d.firstAccept
		if n > len(actions) {
			n = len(actions)
		}
		return n, errors.New("radio dropout")
	}
	return len(actions), nil
}

func (d *partialDeliverer) calls() [][]domain.PendingAction {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]domain.PendingAction, len(d.batches))
	copy(out, d.batches)
	return out
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
}

func waitUntil(t *testing.T, s *Session, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ok := false
		if err := s.DoSync(func() { ok = cond() }); err != nil {
			t.Fatalf("session closed while waiting: %v", err)
		}
		if ok {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline")
}

func TestOfflineWorkQueuesThenDrainsOnReconnect(t *testing.T) {
	monitor := connectivity.NewMonitor(false, nil)
	deliverer := newCaptureDeliverer()
	s := New(Config{
		Jobs:          sessionJobs(),
		Monitor:       monitor,
		Deliverer:     deliverer,
		RetryInterval: time.Hour,
	})
	s.Start()
	defer s.Close()

	if err := s.DoSync(func() {
		if err := s.Controller.Start("job-a"); err != nil {
			t.Errorf("start: %v", err)
		}
		s.Store.SetText(store.Key("notes", ""), "Ant issue")
		if err := s.Controller.Complete("job-a", "D. Alvarez"); err != nil {
			t.Errorf("complete: %v", err)
		}
	}); err != nil {
		t.Fatalf("DoSync: %v", err)
	}

	var queued []domain.PendingAction
	if err := s.DoSync(func() { queued = s.Queue.Snapshot() }); err != nil {
		t.Fatalf("DoSync: %v", err)
	}
	wantKinds := []domain.ActionKind{domain.ActionStart, domain.ActionTextInput, domain.ActionComplete}
	if len(queued) != len(wantKinds) {
		t.Fatalf("queued %d actions, want %d: %+v", len(queued), len(wantKinds), queued)
	}
	for i, kind := range wantKinds {
		if queued[i].Kind != kind {
			t.Fatalf("action %d kind = %q, want %q", i, queued[i].Kind, kind)
		}
	}
	if queued[1].Key != "notes_global" || queued[1].Value != "Ant issue" {
		t.Fatalf("text action = %+v", queued[1])
	}
	if queued[2].EntityID != "job-a" || queued[2].Value != "D. Alvarez" {
		t.Fatalf("complete action = %+v", queued[2])
	}

	monitor.SetOnline(true)
	waitSignal(t, deliverer.notify)

	waitUntil(t, s, func() bool { return s.Queue.Len() == 0 })
	calls := deliverer.calls()
	if len(calls) != 1 {
		t.Fatalf("deliver calls = %d, want 1", len(calls))
	}
	if !reflect.DeepEqual(calls[0], queued) {
		t.Fatalf("delivered batch = %+v, want %+v", calls[0], queued)
	}
}

func TestRetryTickerRedeliversRequeuedTail(t *testing.T) {
	monitor := connectivity.NewMonitor(false, nil)
	deliverer := &partialDeliverer{firstAccept: 1, notify: make(chan struct{}, 8)}
	s := New(Config{
		Jobs:          sessionJobs(),
		Monitor:       monitor,
		Deliverer:     deliverer,
		RetryInterval: 10 * time.Millisecond,
	})
	s.Start()
	defer s.Close()

	if err := s.DoSync(func() {
		if err := s.Controller.Start("job-a"); err != nil {
			t.Errorf("start: %v", err)
		}
		s.Store.SetText(store.Key("notes", ""), "Wasp nest under eave")
		if err := s.Controller.Complete("job-a", "D. Alvarez"); err != nil {
			t.Errorf("complete: %v", err)
		}
	}); err != nil {
		t.Fatalf("DoSync: %v", err)
	}

	monitor.SetOnline(true)
	waitSignal(t, deliverer.notify)
	waitSignal(t, deliverer.notify)
	waitUntil(t, s, func() bool { return s.Queue.Len() == 0 })

	calls := deliverer.calls()
	if len(calls) != 2 {
		t.Fatalf("deliver calls = %d, want 2", len(calls))
	}
	if len(calls[0]) != 3 {
		t.Fatalf("first call carried %d actions, want 3", len(calls[0]))
	}
	if len(calls[1]) != 2 {
		t.Fatalf("second call carried %d actions, want 2", len(calls[1]))
	}
	if !reflect.DeepEqual(calls[1], calls[0][1:]) {
		t.Fatalf("retry batch = %+v, want unaccepted tail %+v", calls[1], calls[0][1:])
	}
}

func TestCloseStopsSimulatorAndRejectsWork(t *testing.T) {
	monitor := connectivity.NewMonitor(true, nil)
	s := New(Config{Jobs: sessionJobs(), Monitor: monitor})
	s.Start()
	s.Simulate(3*time.Millisecond, "QA")

	waitUntil(t, s, func() bool {
		return s.Controller.StatusCounts()[domain.JobPending] < 3
	})
	s.Close()

	before := s.Controller.Jobs()
	time.Sleep(30 * time.Millisecond)
	after := s.Controller.Jobs()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("jobs mutated after close:\nbefore %+v\nafter  %+v", before, after)
	}
	if err := s.Do(func() {}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Do after close = %v, want ErrSessionClosed", err)
	}
	if err := s.DoSync(func() {}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("DoSync after close = %v, want ErrSessionClosed", err)
	}
}

func TestSimulatorRunsRouteToCompletion(t *testing.T) {
	monitor := connectivity.NewMonitor(true, nil)
	s := New(Config{Jobs: sessionJobs()[:2], Monitor: monitor})
	s.Start()
	defer s.Close()
	s.Simulate(2*time.Millisecond, "R. Patel")

	waitUntil(t, s, func() bool {
		return s.Controller.StatusCounts()[domain.JobCompleted] == 2
	})
	var jobs []domain.Job
	if err := s.DoSync(func() { jobs = s.Controller.Jobs() }); err != nil {
		t.Fatalf("DoSync: %v", err)
	}
	for _, job := range jobs {
		if job.Status != domain.JobCompleted {
			t.Fatalf("job %s status = %q", job.ID, job.Status)
		}
		if job.StartTime == nil || job.CompletionTime == nil {
			t.Fatalf("job %s missing timestamps: %+v", job.ID, job)
		}
		if job.Signature == nil || *job.Signature != "R. Patel" {
			t.Fatalf("job %s signature = %v", job.ID, job.Signature)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New(Config{Jobs: sessionJobs(), Monitor: connectivity.NewMonitor(true, nil)})
	s.Start()
	s.Close()
	s.Close()
}
