package typing

import (
	"sync"
	"testing"
	"time"

	"chatsync/internal/model"
	"chatsync/internal/store"
)

type emitted struct {
	event   string
	payload any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{event: event, payload: payload})
	return nil
}

func (r *recordingEmitter) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (r *recordingEmitter) last() emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return emitted{}
	}
	return r.events[len(r.events)-1]
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func newTracker(em *recordingEmitter, idle time.Duration) *Tracker {
	return New(em, store.New(), model.Participant{ID: "me", Name: "Me", Avatar: "a.png"}, Options{
		Idle:     idle,
		Stale:    time.Second,
		Throttle: time.Hour,
	})
}

func TestTracker_BurstEmitsOneStartAndOneStop(t *testing.T) {
	em := &recordingEmitter{}
	tr := newTracker(em, 50*time.Millisecond)
	defer tr.Close()

	for i := 0; i < 5; i++ {
		tr.StartTyping("c1")
		time.Sleep(10 * time.Millisecond)
	}
	if got := em.count(EventStartTyping); got != 1 {
		t.Fatalf("expected one startTyping for the burst, got %d", got)
	}
	if em.count(EventStopTyping) != 0 {
		t.Fatalf("stopTyping must wait for the idle window")
	}

	waitUntil(t, func() bool { return em.count(EventStopTyping) == 1 })
	if p, ok := em.last().payload.(StopPayload); !ok || p.ChatID != "c1" {
		t.Fatalf("unexpected stop payload %+v", em.last().payload)
	}
	time.Sleep(100 * time.Millisecond)
	if got := em.count(EventStopTyping); got != 1 {
		t.Fatalf("expected exactly one stopTyping, got %d", got)
	}

	tr.StartTyping("c1")
	if got := em.count(EventStartTyping); got != 2 {
		t.Fatalf("a new burst after stop should emit startTyping again, got %d", got)
	}
}

func TestTracker_StartPayloadCarriesSelf(t *testing.T) {
	em := &recordingEmitter{}
	tr := newTracker(em, time.Hour)
	defer tr.Close()

	tr.StartTyping("c1")
	p, ok := em.last().payload.(StartPayload)
	if !ok || p.ChatID != "c1" || p.User.ID != "me" || p.User.Name != "Me" || p.User.Avatar != "" {
		t.Fatalf("unexpected start payload %+v", em.last().payload)
	}
}

func TestTracker_StopTypingCancelsTimer(t *testing.T) {
	em := &recordingEmitter{}
	tr := newTracker(em, 30*time.Millisecond)
	defer tr.Close()

	tr.StartTyping("c1")
	tr.StopTyping("c1")
	if tr.Pending("c1") {
		t.Fatalf("expected no pending timer after StopTyping")
	}
	time.Sleep(80 * time.Millisecond)
	if got := em.count(EventStopTyping); got != 1 {
		t.Fatalf("expected only the explicit stopTyping, got %d", got)
	}
}

func TestTracker_ClearCancelsWithoutEmitting(t *testing.T) {
	em := &recordingEmitter{}
	s := store.New()
	tr := New(em, s, model.Participant{ID: "me"}, Options{Idle: 30 * time.Millisecond})
	defer tr.Close()

	tr.StartTyping("c1")
	tr.StartTyping("c2")
	tr.Typing("c3", model.Participant{ID: "u2"})
	tr.Clear()

	time.Sleep(80 * time.Millisecond)
	if em.count(EventStopTyping) != 0 {
		t.Fatalf("Clear must not emit stopTyping")
	}
	if len(s.Typing()) != 0 {
		t.Fatalf("expected received entries dropped")
	}
}

func TestTracker_InboundAndStale(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := store.New()
	tr := New(&recordingEmitter{}, s, model.Participant{ID: "me"}, Options{
		Stale: 5 * time.Second,
		Now:   func() time.Time { return clock },
	})
	defer tr.Close()

	tr.Typing("c1", model.Participant{ID: "u2", Name: "Bo"})
	tr.Typing("c1", model.Participant{ID: "u3", Name: "Cy"})
	if e, _ := s.TypingIn("c1"); e.User.ID != "u3" {
		t.Fatalf("expected the newer typer to replace the older one, got %+v", e)
	}

	if len(tr.Active(clock.Add(4*time.Second))) != 1 {
		t.Fatalf("expected entry active inside the window")
	}
	if len(tr.Active(clock.Add(6*time.Second))) != 0 {
		t.Fatalf("expected stale entry to be hidden")
	}

	tr.Stopped("c1")
	if _, ok := s.TypingIn("c1"); ok {
		t.Fatalf("expected entry removed")
	}
	tr.Stopped("c1")
}
