package socketio

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Authenticator validates the auth object of a connect packet and returns
// the user it belongs to.
type Authenticator func(auth json.RawMessage) (userID string, err error)

type ServerOptions struct {
	Authenticate Authenticator
	OnConnect    func(c *ServerConn)
	OnEvent      func(c *ServerConn, event string, args []json.RawMessage)
	OnDisconnect func(c *ServerConn)

	PingInterval time.Duration
	PingTimeout  time.Duration
}

type Server struct {
	opts     ServerOptions
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*ServerConn]struct{}
	conns map[*ServerConn]struct{}
}

func NewServer(opts ServerOptions) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 20 * time.Second
	}
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]map[*ServerConn]struct{}),
		conns: make(map[*ServerConn]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxPayload)

	c := newServerConn(ws, s.opts.PingInterval)
	s.registerConn(c)
	defer s.unregisterConn(c)

	open := engineOpenPacket{
		SID:          c.sid,
		Upgrades:     []string{},
		PingInterval: int(s.opts.PingInterval / time.Millisecond),
		PingTimeout:  int(s.opts.PingTimeout / time.Millisecond),
		MaxPayload:   maxPayload,
	}
	openBytes, _ := json.Marshal(open)
	_ = c.writeText(string(engineOpen) + string(openBytes))

	go c.pingLoop(s.opts.PingInterval, s.opts.PingTimeout)
	c.readLoop(func(msg string) {
		s.handleMessage(c, msg)
	})
}

// Conns returns the connected (authenticated) sockets.
func (s *Server) Conns() []*ServerConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ServerConn, 0, len(s.conns))
	for c := range s.conns {
		if c.connected.Load() {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) Join(c *ServerConn, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinRoom(room, c)
}

// EmitToRoom sends an event to every member of room except skip (may be nil).
func (s *Server) EmitToRoom(room string, skip *ServerConn, event string, args ...any) {
	payload, err := buildSocketEventPacket("/", event, args...)
	if err != nil {
		return
	}
	s.broadcastToRoom(room, skip, payload)
}

func (s *Server) registerConn(c *ServerConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) unregisterConn(c *ServerConn) {
	s.mu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	for room := range c.rooms {
		s.leaveRoom(room, c)
	}
	s.mu.Unlock()

	c.close()
	if ok && c.connected.Load() && s.opts.OnDisconnect != nil {
		s.opts.OnDisconnect(c)
	}
}

// joinRoom and leaveRoom expect s.mu to be held.
func (s *Server) joinRoom(key string, c *ServerConn) {
	if key == "" {
		return
	}
	set, ok := s.rooms[key]
	if !ok {
		set = make(map[*ServerConn]struct{})
		s.rooms[key] = set
	}
	set[c] = struct{}{}
	c.rooms[key] = struct{}{}
}

func (s *Server) leaveRoom(key string, c *ServerConn) {
	set, ok := s.rooms[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(s.rooms, key)
	}
}

func (s *Server) broadcastToRoom(key string, skip *ServerConn, payload string) {
	if key == "" {
		return
	}

	s.mu.RLock()
	set, ok := s.rooms[key]
	if !ok {
		s.mu.RUnlock()
		return
	}
	conns := make([]*ServerConn, 0, len(set))
	for c := range set {
		if c != skip {
			conns = append(conns, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if err := c.writeText(string(engineMessage) + payload); err != nil {
			s.unregisterConn(c)
		}
	}
}

func (s *Server) handleMessage(c *ServerConn, msg string) {
	if msg == "" {
		return
	}

	switch enginePacketType(msg[0]) {
	case enginePong:
		c.markPong()
	case engineMessage:
		s.handleSocketPayload(c, msg[1:])
	case engineClose:
		c.close()
	}
}

func (s *Server) handleSocketPayload(c *ServerConn, payload string) {
	if payload == "" {
		return
	}

	switch socketPacketType(payload[0]) {
	case socketConnect:
		s.handleConnect(c, payload)
	case socketDisconnect:
		c.close()
	case socketEvent:
		if !c.connected.Load() {
			return
		}
		pkt, err := parseSocketEventPacket(payload)
		if err != nil {
			return
		}
		if s.opts.OnEvent != nil {
			s.opts.OnEvent(c, pkt.Event, pkt.Args)
		}
	}
}

func (s *Server) handleConnect(c *ServerConn, payload string) {
	if c.connected.Load() {
		return
	}

	_, rest := parseOptionalNamespace(payload[1:])
	if s.opts.Authenticate != nil {
		userID, err := s.opts.Authenticate(json.RawMessage(rest))
		if err != nil || userID == "" {
			if err == nil {
				err = errors.New("unauthorized")
			}
			if pkt, perr := buildSocketConnectErrorPacket("/", err.Error()); perr == nil {
				_ = c.writeText(string(engineMessage) + pkt)
			}
			c.close()
			return
		}
		c.userID = userID
	}
	c.connected.Store(true)

	pkt, err := buildSocketConnectPacket("/", map[string]string{"sid": c.sid})
	if err != nil {
		return
	}
	_ = c.writeText(string(engineMessage) + pkt)

	if s.opts.OnConnect != nil {
		s.opts.OnConnect(c)
	}
}

// ServerConn is the server half of one socket.
type ServerConn struct {
	ws *websocket.Conn

	sid    string
	userID string

	connected atomic.Bool

	// rooms is guarded by the owning Server's mu.
	rooms map[string]struct{}

	sendMu sync.Mutex

	pingMu       sync.Mutex
	awaitingPong bool
	pingSentAt   time.Time
	nextPingAt   time.Time

	closed atomic.Bool
}

func newServerConn(ws *websocket.Conn, pingInterval time.Duration) *ServerConn {
	return &ServerConn{
		ws:         ws,
		sid:        uuid.NewString(),
		rooms:      make(map[string]struct{}),
		nextPingAt: time.Now().Add(pingInterval),
	}
}

func (c *ServerConn) SID() string    { return c.sid }
func (c *ServerConn) UserID() string { return c.userID }

func (c *ServerConn) Emit(event string, args ...any) error {
	payload, err := buildSocketEventPacket("/", event, args...)
	if err != nil {
		return err
	}
	return c.writeText(string(engineMessage) + payload)
}

// Disconnect drops the transport without a socket.io goodbye, as a network
// failure would.
func (c *ServerConn) Disconnect() { c.close() }

func (c *ServerConn) close() {
	if c.closed.Swap(true) {
		return
	}
	_ = c.ws.Close()
}

func (c *ServerConn) writeText(msg string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return writeWS(c.ws, msg)
}

func (c *ServerConn) readLoop(onMessage func(string)) {
	defer c.close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		onMessage(string(data))
	}
}

func (c *ServerConn) pingLoop(interval, timeout time.Duration) {
	tick := interval / 4
	if tick > time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for range ticker.C {
		if c.closed.Load() {
			return
		}
		now := time.Now()
		c.pingMu.Lock()
		awaiting := c.awaitingPong
		pingSentAt := c.pingSentAt
		nextPingAt := c.nextPingAt
		if awaiting && now.Sub(pingSentAt) > timeout {
			c.pingMu.Unlock()
			c.close()
			return
		}
		if !awaiting && !now.Before(nextPingAt) {
			c.awaitingPong = true
			c.pingSentAt = now
			c.nextPingAt = now.Add(interval)
			c.pingMu.Unlock()
			_ = c.writeText(string(enginePing))
			continue
		}
		c.pingMu.Unlock()
	}
}

func (c *ServerConn) markPong() {
	c.pingMu.Lock()
	c.awaitingPong = false
	c.pingMu.Unlock()
}
