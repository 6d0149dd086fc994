package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chatsync/internal/model"
	"chatsync/internal/socketio"
)

type serverLog struct {
	mu     sync.Mutex
	events []string
	conns  []*socketio.ServerConn
}

func (l *serverLog) add(event string) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *serverLog) count(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == event {
			n++
		}
	}
	return n
}

func (l *serverLog) latest() *socketio.ServerConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.conns) == 0 {
		return nil
	}
	return l.conns[len(l.conns)-1]
}

func newServer(t *testing.T) (*serverLog, string) {
	t.Helper()
	sl := &serverLog{}
	srv := socketio.NewServer(socketio.ServerOptions{
		Authenticate: func(raw json.RawMessage) (string, error) {
			var body struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(raw, &body); err != nil || body.Token == "" {
				return "", errors.New("Missing token")
			}
			return body.Token, nil
		},
		OnConnect: func(c *socketio.ServerConn) {
			sl.mu.Lock()
			sl.conns = append(sl.conns, c)
			sl.mu.Unlock()
		},
		OnEvent: func(c *socketio.ServerConn, event string, args []json.RawMessage) {
			if event == EventJoinRoom {
				var room string
				_ = socketio.Decode(args, &room)
				sl.add(event + ":" + room)
				return
			}
			sl.add(event)
		},
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return sl, ts.URL
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

var session = model.Session{ID: "u1", Token: "u1"}

func TestManager_OpenRegistersAndRejectsSecondOpen(t *testing.T) {
	sl, url := newServer(t)
	m := NewManager(Options{URL: url})
	defer m.Close()

	if err := m.Open(context.Background(), session, nil); err != nil {
		t.Fatalf("Open: %v", err)
	}
	eventually(t, func() bool { return sl.count(EventRegisterUser) == 1 })

	if err := m.Open(context.Background(), session, nil); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("expected ErrAlreadyOpen, got %v", err)
	}
	if !m.IsOpen() {
		t.Fatalf("expected open")
	}
}

func TestManager_CloseIsIdempotentAndStopsEmits(t *testing.T) {
	_, url := newServer(t)
	m := NewManager(Options{URL: url})
	if err := m.Open(context.Background(), session, nil); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := m.Emit(EventStopTyping, map[string]string{"chatId": "c1"}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if err := m.JoinTopic("c1"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}

func TestManager_ReopenDoesNotDuplicateHandlers(t *testing.T) {
	sl, url := newServer(t)
	m := NewManager(Options{URL: url})
	defer m.Close()

	var mu sync.Mutex
	calls := 0
	handlers := Handlers{EventUserOnline: func(args []json.RawMessage) {
		mu.Lock()
		calls++
		mu.Unlock()
	}}

	for i := 0; i < 3; i++ {
		if err := m.Open(context.Background(), session, handlers); err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		if i < 2 {
			_ = m.Close()
		}
	}
	eventually(t, func() bool { return sl.count(EventRegisterUser) == 3 })

	if err := sl.latest().Emit(EventUserOnline, "u2"); err != nil {
		t.Fatalf("server emit: %v", err)
	}
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 1
	})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected the handler to run once, ran %d times", calls)
	}
}

func TestManager_RejoinsRoomsAfterReconnect(t *testing.T) {
	sl, url := newServer(t)
	m := NewManager(Options{URL: url, ReconnectMax: 3, ReconnectDelay: 10 * time.Millisecond})
	defer m.Close()

	if err := m.Open(context.Background(), session, nil); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.JoinTopic("c1"); err != nil {
		t.Fatalf("JoinTopic: %v", err)
	}
	if err := m.JoinTopic("c1"); err != nil {
		t.Fatalf("JoinTopic: %v", err)
	}
	eventually(t, func() bool { return sl.count(EventJoinRoom+":c1") == 2 })

	sl.latest().Disconnect()

	eventually(t, func() bool { return sl.count(EventRegisterUser) == 2 && sl.count(EventJoinRoom+":c1") == 3 })
	if !m.IsOpen() {
		t.Fatalf("expected channel to stay open across reconnect")
	}
}

func TestManager_LostAfterReconnectsExhausted(t *testing.T) {
	sl, url := newServer(t)
	lost := make(chan error, 1)
	m := NewManager(Options{URL: url, OnLost: func(err error) { lost <- err }})
	defer m.Close()

	if err := m.Open(context.Background(), session, nil); err != nil {
		t.Fatalf("Open: %v", err)
	}
	eventually(t, func() bool { return sl.latest() != nil })
	sl.latest().Disconnect()

	select {
	case <-lost:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected OnLost")
	}
	if m.IsOpen() {
		t.Fatalf("expected closed after loss")
	}
}
