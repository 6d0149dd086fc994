// Package hub keeps the socket connections of each user so events can be
// pushed to a user rather than to a single connection.
package hub

import (
	"sort"
	"sync"
)

type Emitter interface {
	Emit(event string, args ...any) error
	Disconnect()
}

type Connection struct {
	UserID string
	Conn   Emitter
}

type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[string]map[*Connection]struct{})}
}

// Register reports whether conn is the user's first connection.
func (h *Hub) Register(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.UserID]
	if set == nil {
		set = make(map[*Connection]struct{})
		h.connections[conn.UserID] = set
	}
	set[conn] = struct{}{}
	return len(set) == 1
}

// Unregister reports whether conn was the user's last connection.
func (h *Hub) Unregister(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.UserID]
	if set == nil {
		return false
	}
	if _, ok := set[conn]; !ok {
		return false
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.UserID)
		return true
	}
	return false
}

// Emit sends event to every connection of userID. Connections that fail
// are dropped.
func (h *Hub) Emit(userID string, event string, args ...any) int {
	conns := h.snapshot(userID)

	sent := 0
	var failed []*Connection
	for _, c := range conns {
		if err := c.Conn.Emit(event, args...); err != nil {
			failed = append(failed, c)
			continue
		}
		sent++
	}
	for _, c := range failed {
		c.Conn.Disconnect()
		h.Unregister(c)
	}
	return sent
}

// Broadcast sends event to every connected user except skip.
func (h *Hub) Broadcast(skip string, event string, args ...any) {
	for _, userID := range h.Online() {
		if userID != skip {
			h.Emit(userID, event, args...)
		}
	}
}

// Kick disconnects every connection of userID and reports whether there
// were any.
func (h *Hub) Kick(userID string) bool {
	conns := h.snapshot(userID)
	for _, c := range conns {
		h.Unregister(c)
		c.Conn.Disconnect()
	}
	return len(conns) > 0
}

func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID]) > 0
}

// Online returns the connected user ids, sorted.
func (h *Hub) Online() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.connections))
	for id := range h.connections {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (h *Hub) snapshot(userID string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.connections[userID]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}
