package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recorded struct {
	event string
	args  []json.RawMessage
}

func newTestServer(t *testing.T, opts ServerOptions) (*Server, string) {
	t.Helper()
	srv := NewServer(opts)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts.URL
}

func tokenAuth(raw json.RawMessage) (string, error) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", err
	}
	if body.Token != "good" {
		return "", errors.New("Invalid authentication token")
	}
	return "u1", nil
}

func waitFor(t *testing.T, ch <-chan recorded, event string) recorded {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case r := <-ch:
			if r.event == event {
				return r
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
			return recorded{}
		}
	}
}

func TestDial_EmitAndReceive(t *testing.T) {
	serverEvents := make(chan recorded, 16)
	srv, url := newTestServer(t, ServerOptions{
		Authenticate: tokenAuth,
		OnEvent: func(c *ServerConn, event string, args []json.RawMessage) {
			serverEvents <- recorded{event: event, args: args}
			if event == "registerUser" {
				_ = c.Emit("onlineUsers", []string{"u1", "u2"})
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := Dial(ctx, Options{URL: url, Auth: map[string]string{"token": "good"}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if conn.SID() == "" {
		t.Fatalf("expected a socket id")
	}

	got := make(chan recorded, 16)
	conn.On("onlineUsers", func(args []json.RawMessage) {
		got <- recorded{event: "onlineUsers", args: args}
	})

	if err := conn.Emit("registerUser", "u1"); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	r := waitFor(t, serverEvents, "registerUser")
	var id string
	if err := Decode(r.args, &id); err != nil || id != "u1" {
		t.Fatalf("unexpected registerUser args %s err %v", r.args, err)
	}

	r = waitFor(t, got, "onlineUsers")
	var ids []string
	if err := Decode(r.args, &ids); err != nil || len(ids) != 2 {
		t.Fatalf("unexpected onlineUsers %s err %v", r.args, err)
	}
	if len(srv.Conns()) != 1 || srv.Conns()[0].UserID() != "u1" {
		t.Fatalf("expected one authenticated server conn")
	}
}

func TestDial_RejectedAuth(t *testing.T) {
	_, url := newTestServer(t, ServerOptions{Authenticate: tokenAuth})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := Dial(ctx, Options{URL: url, Auth: map[string]string{"token": "bad"}})
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectError, got %v", err)
	}
}

func TestConn_OnReplacesHandler(t *testing.T) {
	srv, url := newTestServer(t, ServerOptions{Authenticate: tokenAuth})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := Dial(ctx, Options{URL: url, Auth: map[string]string{"token": "good"}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	var mu sync.Mutex
	first, second := 0, 0
	done := make(chan struct{}, 4)
	conn.On("userOnline", func(args []json.RawMessage) {
		mu.Lock()
		first++
		mu.Unlock()
		done <- struct{}{}
	})
	conn.On("userOnline", func(args []json.RawMessage) {
		mu.Lock()
		second++
		mu.Unlock()
		done <- struct{}{}
	})

	deadline := time.Now().Add(3 * time.Second)
	for len(srv.Conns()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := srv.Conns()[0].Emit("userOnline", "u2"); err != nil {
		t.Fatalf("server Emit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for handler")
	}

	mu.Lock()
	defer mu.Unlock()
	if first != 0 || second != 1 {
		t.Fatalf("expected only the replacement handler to run, got first=%d second=%d", first, second)
	}
}

func TestConn_CloseStopsDispatchAndEmit(t *testing.T) {
	_, url := newTestServer(t, ServerOptions{Authenticate: tokenAuth})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := Dial(ctx, Options{URL: url, Auth: map[string]string{"token": "good"}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
	if err := conn.Emit("registerUser", "u1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	select {
	case <-conn.Done():
	default:
		t.Fatalf("expected Done to be closed")
	}
}

func TestConn_Reconnects(t *testing.T) {
	connects := make(chan *ServerConn, 4)
	_, url := newTestServer(t, ServerOptions{
		Authenticate: tokenAuth,
		OnConnect:    func(c *ServerConn) { connects <- c },
	})

	reconnected := make(chan struct{}, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := Dial(ctx, Options{
		URL:            url,
		Auth:           map[string]string{"token": "good"},
		ReconnectMax:   3,
		ReconnectDelay: 10 * time.Millisecond,
		OnReconnect:    func() { reconnected <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	first := <-connects
	first.Disconnect()

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for reconnect")
	}
	second := <-connects
	if second.SID() == first.SID() {
		t.Fatalf("expected a new server socket")
	}
	if conn.Closed() {
		t.Fatalf("connection should stay open across a reconnect")
	}
}
