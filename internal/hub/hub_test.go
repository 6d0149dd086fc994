package hub

import "testing"

type testConn struct {
	emits        int
	fail         bool
	disconnected bool
}

func (c *testConn) Emit(event string, args ...any) error {
	c.emits++
	if c.fail {
		return errTest
	}
	return nil
}

func (c *testConn) Disconnect() { c.disconnected = true }

var errTest = &testErr{}

type testErr struct{}

func (*testErr) Error() string { return "test" }

func TestHub_RegisterEmitUnregister(t *testing.T) {
	h := New()
	w1 := &testConn{}
	c1 := &Connection{UserID: "u", Conn: w1}
	c2 := &Connection{UserID: "u", Conn: &testConn{}}

	if !h.Register(c1) {
		t.Fatalf("expected first connection")
	}
	if h.Register(c2) {
		t.Fatalf("second connection is not the first")
	}
	if sent := h.Emit("u", "x"); sent != 2 || w1.emits != 1 {
		t.Fatalf("expected 2 sends, got %d", sent)
	}

	if h.Unregister(c1) {
		t.Fatalf("c2 is still connected")
	}
	if !h.Unregister(c2) {
		t.Fatalf("expected last connection")
	}
	if h.Unregister(c2) {
		t.Fatalf("double unregister must report false")
	}
	h.Emit("u", "x")
	if w1.emits != 1 {
		t.Fatalf("expected no more emits, got %d", w1.emits)
	}
	if h.Connected("u") {
		t.Fatalf("expected u offline")
	}
}

func TestHub_RemovesFailedConnections(t *testing.T) {
	h := New()
	w1 := &testConn{fail: true}
	c1 := &Connection{UserID: "u", Conn: w1}
	h.Register(c1)

	h.Emit("u", "x")
	h.Emit("u", "x")
	if w1.emits != 1 || !w1.disconnected {
		t.Fatalf("expected only 1 emit before removal, got %d", w1.emits)
	}
}

func TestHub_BroadcastSkipsAndKick(t *testing.T) {
	h := New()
	a, b := &testConn{}, &testConn{}
	h.Register(&Connection{UserID: "a", Conn: a})
	h.Register(&Connection{UserID: "b", Conn: b})

	h.Broadcast("a", "userOnline", "a")
	if a.emits != 0 || b.emits != 1 {
		t.Fatalf("unexpected emits a=%d b=%d", a.emits, b.emits)
	}
	if got := h.Online(); len(got) != 2 || got[0] != "a" {
		t.Fatalf("unexpected online %v", got)
	}

	if !h.Kick("b") || h.Kick("b") {
		t.Fatalf("expected Kick to report connections once")
	}
	if !b.disconnected || h.Connected("b") {
		t.Fatalf("expected b kicked")
	}
}
