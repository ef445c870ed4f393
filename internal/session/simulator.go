package session

import (
	"sync"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
)

// Simulator advances a route on a timer for demos: each tick starts the
// first pending job or completes the first in-progress one, signing with
// Signature. It mutates only through the owning session's goroutine and
// stops itself when every job is terminal.
type Simulator struct {
	session   *Session
	interval  time.Duration
	signature string

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Simulate starts a simulator owned by the session; Close on either stops
// it.
func (s *Session) Simulate(interval time.Duration, signature string) *Simulator {
	if interval <= 0 {
		interval = time.Second
	}
	if signature == "" {
		signature = "Simulated"
	}
	sim := &Simulator{
		session:   s,
		interval:  interval,
		signature: signature,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.mu.Lock()
	s.sims = append(s.sims, sim)
	s.mu.Unlock()
	go sim.run()
	return sim
}

func (sim *Simulator) Close() {
	sim.closeOnce.Do(func() {
		close(sim.stop)
	})
	<-sim.done
}

func (sim *Simulator) run() {
	defer close(sim.done)
	tick := time.NewTicker(sim.interval)
	defer tick.Stop()
	for {
		select {
		case <-sim.stop:
			return
		case <-tick.C:
			alive := false
			err := sim.session.DoSync(func() {
				alive = sim.advance()
			})
			if err != nil || !alive {
				return
			}
		}
	}
}

// advance runs on the session goroutine. It returns false once no job can
// move anymore.
func (sim *Simulator) advance() bool {
	ctl := sim.session.Controller
	for _, job := range ctl.Jobs() {
		switch job.Status {
		case domain.JobInProgress:
			if err := ctl.Complete(job.ID, sim.signature); err == nil {
				return true
			}
		case domain.JobPending:
			if err := ctl.Start(job.ID); err == nil {
				return true
			}
		}
	}
	return false
}
