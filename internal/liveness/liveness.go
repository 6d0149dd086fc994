// Package liveness polls the profile endpoint to notice when the account
// behind the session stops existing.
package liveness

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatsync/internal/api"
	"chatsync/internal/logging"
)

var log = logging.Logger("liveness")

type State string

const (
	StateIdle       State = "idle"
	StateActive     State = "active"
	StateTerminated State = "terminated"
)

// Checker is one liveness probe; api.ErrUnauthorized means the session is
// gone.
type Checker func(ctx context.Context) error

type Monitor struct {
	check     Checker
	interval  time.Duration
	onInvalid func()

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	fired  bool
}

func New(check Checker, interval time.Duration, onInvalid func()) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{check: check, interval: interval, onInvalid: onInvalid, state: StateIdle}
}

// Start begins polling. It is a no-op unless the monitor is idle.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.state = StateActive
	go m.run(ctx, m.done)
}

// Stop cancels polling and waits for the poller to exit. Safe to call more
// than once, including from onInvalid.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	if m.state == StateActive {
		m.state = StateTerminated
	}
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := m.check(ctx)
		if err == nil {
			continue
		}
		// a 401 counts even if Stop raced with the check
		if !errors.Is(err, api.ErrUnauthorized) {
			if ctx.Err() != nil {
				return
			}
			log.Warnw("liveness check failed", "error", err)
			continue
		}

		m.mu.Lock()
		first := !m.fired
		m.fired = true
		m.state = StateTerminated
		m.mu.Unlock()
		if first {
			log.Warnw("session no longer valid")
			if m.onInvalid != nil {
				// onInvalid usually calls Stop, which waits for this goroutine.
				go m.onInvalid()
			}
		}
		return
	}
}
