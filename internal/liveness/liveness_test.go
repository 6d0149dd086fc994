package liveness

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"chatsync/internal/api"
)

func TestMonitor_UnauthorizedFiresOnce(t *testing.T) {
	var calls atomic.Int32
	fired := make(chan struct{}, 2)
	var m *Monitor
	m = New(func(ctx context.Context) error {
		calls.Add(1)
		return fmt.Errorf("wrapped: %w", api.ErrUnauthorized)
	}, 5*time.Millisecond, func() {
		m.Stop()
		fired <- struct{}{}
	})
	m.Start(context.Background())

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected onInvalid")
	}
	time.Sleep(30 * time.Millisecond)
	if len(fired) != 0 {
		t.Fatalf("onInvalid must fire once")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected polling to stop after invalidation, got %d calls", calls.Load())
	}
	if m.State() != StateTerminated {
		t.Fatalf("expected terminated, got %s", m.State())
	}
}

func TestMonitor_OtherErrorsIgnored(t *testing.T) {
	var calls atomic.Int32
	invalid := false
	m := New(func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("network down")
	}, 5*time.Millisecond, func() { invalid = true })
	m.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()
	if calls.Load() < 3 {
		t.Fatalf("expected polling to continue after transport errors")
	}
	if invalid {
		t.Fatalf("transport errors must not invalidate the session")
	}
	if m.State() != StateTerminated {
		t.Fatalf("expected terminated after Stop, got %s", m.State())
	}
}

func TestMonitor_StopIsSynchronousAndIdempotent(t *testing.T) {
	var calls atomic.Int32
	m := New(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, 5*time.Millisecond, nil)

	m.Stop()
	if m.State() != StateIdle {
		t.Fatalf("Stop before Start should leave the monitor idle")
	}

	m.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	m.Stop()
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != after {
		t.Fatalf("no check may run after Stop returns")
	}
	m.Stop()

	m.Start(context.Background())
	if m.State() != StateTerminated {
		t.Fatalf("a terminated monitor must not restart")
	}
}
