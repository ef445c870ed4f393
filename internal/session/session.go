// Package session is the single-writer actor owning one technician's live
// work state: the input value store, the offline action queue, and the job
// lifecycle controller. Every mutation runs on the session goroutine;
// external callers marshal work in through Do/DoSync, and the connectivity
// monitor's transitions are consumed here so drains happen on the writer
// too.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/connectivity"
	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
	"github.com/jbriggs-source/PestGenie-sub001/internal/lifecycle"
	"github.com/jbriggs-source/PestGenie-sub001/internal/queue"
	"github.com/jbriggs-source/PestGenie-sub001/internal/store"
	"github.com/jbriggs-source/PestGenie-sub001/internal/syncer"
)

var ErrSessionClosed = errors.New("session closed")

type Config struct {
	// Jobs is the route's ordered job list.
	Jobs []domain.Job
	// Monitor supplies the ambient connectivity flag. Required.
	Monitor *connectivity.Monitor
	// Deliverer ships drained actions to the backend. Nil disables flushing
	// (actions stay queued).
	Deliverer syncer.Deliverer
	// RetryInterval paces re-flush attempts while online with a non-empty
	// queue. Zero means syncer.DefaultRetryInterval.
	RetryInterval time.Duration
	Log           *slog.Logger
}

type Session struct {
	Log        *slog.Logger
	Store      *store.InputValueStore
	Queue      *queue.ActionQueue
	Controller *lifecycle.Controller
	Monitor    *connectivity.Monitor

	flusher       *syncer.Flusher
	retryInterval time.Duration

	dispatch chan func()
	done     chan struct{}
	cancel   context.CancelFunc

	mu        sync.Mutex
	sims      []*Simulator
	closeOnce sync.Once
}

// New wires a session. Start must be called before Do/DoSync.
func New(cfg Config) *Session {
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	monitor := cfg.Monitor
	if monitor == nil {
		monitor = connectivity.NewMonitor(true, log)
	}
	q := queue.New()
	s := &Session{
		Log:           log,
		Store:         store.New(monitor.Online, q),
		Queue:         q,
		Controller:    lifecycle.NewController(cfg.Jobs, monitor.Online, q),
		Monitor:       monitor,
		retryInterval: cfg.RetryInterval,
		dispatch:      make(chan func(), 16),
		done:          make(chan struct{}),
	}
	if s.retryInterval <= 0 {
		s.retryInterval = syncer.DefaultRetryInterval
	}
	if cfg.Deliverer != nil {
		s.flusher = &syncer.Flusher{Queue: q, Deliverer: cfg.Deliverer, Log: log}
	}
	return s
}

// Start launches the run loop.
func (s *Session) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

// Close stops the run loop and every simulator the session owns. After
// Close returns, no timer fires and no state mutates.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		} else {
			close(s.done)
		}
		s.mu.Lock()
		sims := s.sims
		s.sims = nil
		s.mu.Unlock()
		for _, sim := range sims {
			sim.Close()
		}
	})
}

// Do marshals fn onto the session goroutine and returns without waiting.
func (s *Session) Do(fn func()) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	case s.dispatch <- fn:
		return nil
	}
}

// DoSync marshals fn onto the session goroutine and waits for it to run.
func (s *Session) DoSync(fn func()) error {
	ran := make(chan struct{})
	if err := s.Do(func() {
		fn()
		close(ran)
	}); err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	retry := time.NewTicker(s.retryInterval)
	defer retry.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.dispatch:
			fn()
		case tr := <-s.Monitor.Transitions():
			if tr.Online {
				s.flush(ctx)
			}
		case <-retry.C:
			if s.Monitor.Online() && s.Queue.Len() > 0 {
				s.flush(ctx)
			}
		}
	}
}

func (s *Session) flush(ctx context.Context) {
	if s.flusher == nil {
		return
	}
	if err := s.flusher.Flush(ctx); err != nil {
		s.Log.Warn("flush will retry", "err", err)
	}
}
