// Package connectivity bridges an external reachability signal into the
// session's single-writer world. Any goroutine may report the ambient flag;
// only deduplicated transitions are published, and only the session run loop
// consumes them, so drains always happen on the single writer.
package connectivity

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// Transition is one observed connectivity change.
type Transition struct {
	Online bool
	At     time.Time
}

type Monitor struct {
	log *slog.Logger

	mu     sync.Mutex
	online bool
	ch     chan Transition
}

// NewMonitor starts from the given flag. A nil logger discards.
func NewMonitor(initial bool, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Monitor{
		log:    log,
		online: initial,
		ch:     make(chan Transition, 4),
	}
}

// Online reports the current flag. Safe from any goroutine; the store and
// controller use it as their connectivity probe.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records the ambient flag. Repeated reports of the same state are
// dropped; real changes are published to the transition channel. When the
// consumer lags, the oldest unconsumed transition is discarded so the latest
// state always gets through.
func (m *Monitor) SetOnline(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == v {
		return
	}
	m.online = v
	t := Transition{Online: v, At: time.Now()}
	for {
		select {
		case m.ch <- t:
			m.log.Info("connectivity changed", "online", v)
			return
		default:
			select {
			case <-m.ch:
			default:
			}
		}
	}
}

// Transitions is consumed by exactly one reader: the session run loop.
func (m *Monitor) Transitions() <-chan Transition {
	return m.ch
}
