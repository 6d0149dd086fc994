// Package channel owns the session's persistent socket.io connection: it
// opens it with the session credential, registers the session's handlers on
// it exactly once, remembers joined rooms across transport reconnects and
// closes it on teardown.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/logging"
	"chatsync/internal/model"
	"chatsync/internal/socketio"

	"github.com/gorilla/websocket"
)

var log = logging.Logger("channel")

var (
	ErrNotOpen     = errors.New("channel: not open")
	ErrAlreadyOpen = errors.New("channel: already open")
)

type Handler = socketio.Handler

// Handlers maps inbound event names to their handler.
type Handlers map[string]Handler

type Options struct {
	URL            string
	ReconnectMax   int
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	// OnUnknown receives events without a handler.
	OnUnknown func(event string, args []json.RawMessage)
	// OnLost runs when the transport is gone for good.
	OnLost func(err error)
}

type Manager struct {
	opts Options

	mu      sync.Mutex
	conn    *socketio.Conn
	gen     uint64
	session model.Session
	rooms   []string
}

func NewManager(opts Options) *Manager {
	return &Manager{opts: opts}
}

// Open connects for session and installs handlers on the new connection.
// A Manager holds at most one connection; a second Open before Close
// returns ErrAlreadyOpen.
func (m *Manager) Open(ctx context.Context, session model.Session, handlers Handlers) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return ErrAlreadyOpen
	}

	m.gen++
	gen := m.gen
	table := make(map[string]socketio.Handler, len(handlers))
	for event, h := range handlers {
		table[event] = h
	}
	conn, err := socketio.Dial(ctx, socketio.Options{
		URL:            m.opts.URL,
		Auth:           map[string]string{"token": session.Token},
		Dialer:         m.opts.Dialer,
		Handlers:       table,
		OnAny:          m.opts.OnUnknown,
		ReconnectMax:   m.opts.ReconnectMax,
		ReconnectDelay: m.opts.ReconnectDelay,
		OnReconnect:    func() { m.rejoin(gen) },
		OnClose:        func(err error) { m.lost(gen, err) },
	})
	if err != nil {
		return fmt.Errorf("channel: open: %w", err)
	}

	m.conn = conn
	m.session = session
	m.rooms = nil

	if err := conn.Emit(EventRegisterUser, session.ID); err != nil {
		m.conn = nil
		_ = conn.Close()
		return fmt.Errorf("channel: register: %w", err)
	}
	log.Infow("channel open", "user", session.ID, "sid", conn.SID())
	return nil
}

// Close is idempotent. Once it returns no handler of the closed connection
// starts again.
func (m *Manager) Close() error {
	m.mu.Lock()
	conn := m.conn
	userID := m.session.ID
	m.conn = nil
	m.rooms = nil
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	log.Infow("channel closed", "user", userID)
	return conn.Close()
}

func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// JoinTopic subscribes to a conversation's room. The room is re-joined after
// a transport reconnect.
func (m *Manager) JoinTopic(conversationID string) error {
	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		m.mu.Unlock()
		return ErrNotOpen
	}
	known := false
	for _, r := range m.rooms {
		if r == conversationID {
			known = true
			break
		}
	}
	if !known {
		m.rooms = append(m.rooms, conversationID)
	}
	m.mu.Unlock()

	return conn.Emit(EventJoinRoom, conversationID)
}

func (m *Manager) Emit(event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	if err := conn.Emit(event, payload); err != nil {
		if errors.Is(err, socketio.ErrClosed) {
			return ErrNotOpen
		}
		return err
	}
	return nil
}

func (m *Manager) rejoin(gen uint64) {
	m.mu.Lock()
	conn := m.conn
	if conn == nil || m.gen != gen {
		m.mu.Unlock()
		return
	}
	userID := m.session.ID
	rooms := append([]string(nil), m.rooms...)
	m.mu.Unlock()

	if err := conn.Emit(EventRegisterUser, userID); err != nil {
		log.Warnw("re-register after reconnect failed", "error", err)
		return
	}
	for _, r := range rooms {
		if err := conn.Emit(EventJoinRoom, r); err != nil {
			log.Warnw("re-join after reconnect failed", "room", r, "error", err)
		}
	}
	log.Infow("channel re-established", "user", userID, "rooms", len(rooms))
}

func (m *Manager) lost(gen uint64, err error) {
	m.mu.Lock()
	if m.conn == nil || m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.rooms = nil
	m.mu.Unlock()

	log.Warnw("channel lost", "error", err)
	if m.opts.OnLost != nil {
		m.opts.OnLost(err)
	}
}
