// Package socketio speaks engine.io v4 / socket.io v5 over a websocket: a
// reconnecting client connection for the sync engine and a small server
// used by the in-process test backend.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"chatsync/internal/logging"

	"github.com/gorilla/websocket"
)

var log = logging.Logger("socketio")

const (
	maxPayload       int64         = 1000000
	writeTimeout     time.Duration = 10 * time.Second
	handshakeTimeout time.Duration = 10 * time.Second
	inboxSize                      = 256
)

var ErrClosed = errors.New("socketio: connection closed")

// Handler receives the JSON arguments of one event, in delivery order.
type Handler func(args []json.RawMessage)

type Options struct {
	// URL is the server origin, e.g. http://localhost:5000. The engine.io
	// path and query are appended.
	URL    string
	Path   string
	Auth   any
	Header http.Header
	Dialer *websocket.Dialer

	// Handlers and OnAny are installed before the first packet is read.
	Handlers map[string]Handler
	OnAny    func(event string, args []json.RawMessage)

	// ReconnectMax bounds consecutive reconnect attempts after the
	// transport drops; 0 disables reconnecting.
	ReconnectMax   int
	ReconnectDelay time.Duration

	// OnReconnect runs on the reader goroutine after every successful
	// reconnect, before further events are read.
	OnReconnect func()
	// OnClose runs once when the connection is gone for good and Close
	// was not called.
	OnClose func(err error)
}

// Conn is one logical socket.io connection. Handlers are stored on the Conn
// so a fresh Conn always starts with an empty table.
type Conn struct {
	opts     Options
	endpoint string
	dialer   *websocket.Dialer

	mu       sync.Mutex
	ws       *websocket.Conn
	sid      string
	window   time.Duration
	handlers map[string]Handler
	fallback func(event string, args []json.RawMessage)

	sendMu sync.Mutex

	inbox  chan socketEventPacket
	done   chan struct{}
	closed atomic.Bool
}

// Endpoint turns a server origin into the engine.io websocket URL.
func Endpoint(origin, path string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("socketio: unsupported scheme %q", u.Scheme)
	}
	if path == "" {
		path = "/socket.io/"
	}
	u.Path = path
	q := url.Values{}
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial performs the engine.io handshake and the socket.io connect, then
// starts reading. A rejected connect returns a *ConnectError.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	endpoint, err := Endpoint(opts.URL, opts.Path)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}

	c := &Conn{
		opts:     opts,
		endpoint: endpoint,
		dialer:   dialer,
		handlers: make(map[string]Handler, len(opts.Handlers)),
		fallback: opts.OnAny,
		inbox:    make(chan socketEventPacket, inboxSize),
		done:     make(chan struct{}),
	}
	for event, h := range opts.Handlers {
		if h != nil {
			c.handlers[event] = h
		}
	}
	ws, sid, err := c.handshake(ctx)
	if err != nil {
		return nil, err
	}
	c.ws = ws
	c.sid = sid

	go c.readLoop()
	go c.dispatchLoop()
	return c, nil
}

// On binds handler to event, replacing any earlier binding.
func (c *Conn) On(event string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handler == nil {
		delete(c.handlers, event)
		return
	}
	c.handlers[event] = handler
}

// OnAny receives events that have no handler.
func (c *Conn) OnAny(fn func(event string, args []json.RawMessage)) {
	c.mu.Lock()
	c.fallback = fn
	c.mu.Unlock()
}

func (c *Conn) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Closed() bool { return c.closed.Load() }

func (c *Conn) Emit(event string, args ...any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	packet, err := buildSocketEventPacket("/", event, args...)
	if err != nil {
		return err
	}
	return c.writeText(string(engineMessage) + packet)
}

// Close disconnects and stops dispatch. It does not wait for a handler that
// is already running; no handler starts after Close returns.
func (c *Conn) Close() error {
	return c.shutdown(nil, true)
}

func (c *Conn) shutdown(cause error, local bool) error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil && local {
		_ = c.writeText(string(engineMessage) + string(socketDisconnect))
	}
	var err error
	if ws != nil {
		err = ws.Close()
	}
	if !local && c.opts.OnClose != nil {
		c.opts.OnClose(cause)
	}
	return err
}

func (c *Conn) writeText(msg string) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrClosed
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return writeWS(ws, msg)
}

func writeWS(ws *websocket.Conn, msg string) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *Conn) handshake(ctx context.Context) (*websocket.Conn, string, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.endpoint, c.opts.Header)
	if err != nil {
		return nil, "", fmt.Errorf("socketio: dial: %w", err)
	}
	ws.SetReadLimit(maxPayload)

	fail := func(err error) (*websocket.Conn, string, error) {
		_ = ws.Close()
		return nil, "", err
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)

	_, data, err := ws.ReadMessage()
	if err != nil {
		return fail(fmt.Errorf("socketio: read open: %w", err))
	}
	open, err := parseEngineOpenPacket(string(data))
	if err != nil {
		return fail(fmt.Errorf("socketio: %w", err))
	}

	connectPkt, err := buildSocketConnectPacket("/", c.opts.Auth)
	if err != nil {
		return fail(err)
	}
	if err := writeWS(ws, string(engineMessage)+connectPkt); err != nil {
		return fail(err)
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fail(fmt.Errorf("socketio: read connect reply: %w", err))
		}
		msg := string(data)
		if msg == "" {
			continue
		}
		switch enginePacketType(msg[0]) {
		case enginePing:
			if err := writeWS(ws, string(enginePong)); err != nil {
				return fail(err)
			}
			continue
		case engineMessage:
		default:
			continue
		}
		payload := msg[1:]
		if payload == "" {
			continue
		}
		t := socketPacketType(payload[0])
		if t != socketConnect && t != socketConnectError {
			continue
		}
		sid, err := parseSocketConnectReply(payload)
		if err != nil {
			return fail(err)
		}
		c.setReadDeadline(ws, open)
		log.Debugw("connected", "endpoint", c.endpoint, "engineSid", open.SID, "sid", sid)
		return ws, sid, nil
	}
}

// setReadDeadline gives the server one ping interval plus its timeout to
// show signs of life.
func (c *Conn) setReadDeadline(ws *websocket.Conn, open engineOpenPacket) {
	if open.PingInterval <= 0 {
		_ = ws.SetReadDeadline(time.Time{})
		return
	}
	window := time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	_ = ws.SetReadDeadline(time.Now().Add(window))
	c.mu.Lock()
	c.window = window
	c.mu.Unlock()
}

func (c *Conn) readLoop() {
	for {
		c.mu.Lock()
		ws := c.ws
		window := c.window
		c.mu.Unlock()

		err := c.readFrom(ws, window)
		if c.closed.Load() {
			return
		}
		log.Infow("transport lost", "error", err)
		if !c.reconnect() {
			_ = c.shutdown(err, false)
			return
		}
	}
}

func (c *Conn) readFrom(ws *websocket.Conn, window time.Duration) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		if window > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(window))
		}
		msg := string(data)
		if msg == "" {
			continue
		}

		switch enginePacketType(msg[0]) {
		case enginePing:
			_ = c.writeText(string(enginePong))
		case engineClose:
			return errors.New("server closed transport")
		case engineMessage:
			payload := msg[1:]
			if payload == "" {
				continue
			}
			switch socketPacketType(payload[0]) {
			case socketEvent:
				pkt, err := parseSocketEventPacket(payload)
				if err != nil {
					log.Warnw("dropping malformed event packet", "error", err)
					continue
				}
				select {
				case c.inbox <- pkt:
				case <-c.done:
					return ErrClosed
				}
			case socketDisconnect:
				return errors.New("server disconnected socket")
			}
		}
	}
}

func (c *Conn) reconnect() bool {
	if c.opts.ReconnectMax <= 0 {
		return false
	}
	delay := c.opts.ReconnectDelay
	for attempt := 1; attempt <= c.opts.ReconnectMax; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		ws, sid, err := c.handshake(ctx)
		cancel()
		if err != nil {
			log.Warnw("reconnect failed", "attempt", attempt, "error", err)
			var ce *ConnectError
			if errors.As(err, &ce) {
				return false
			}
			if delay < 30*time.Second {
				delay *= 2
			}
			continue
		}

		c.mu.Lock()
		old := c.ws
		c.ws = ws
		c.sid = sid
		c.mu.Unlock()
		_ = old.Close()

		if c.closed.Load() {
			_ = ws.Close()
			return false
		}
		log.Infow("reconnected", "attempt", attempt, "sid", sid)
		if c.opts.OnReconnect != nil {
			c.opts.OnReconnect()
		}
		return true
	}
	return false
}

func (c *Conn) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case pkt := <-c.inbox:
			if c.closed.Load() {
				return
			}
			c.mu.Lock()
			h := c.handlers[pkt.Event]
			fallback := c.fallback
			c.mu.Unlock()

			switch {
			case h != nil:
				h(pkt.Args)
			case fallback != nil:
				fallback(pkt.Event, pkt.Args)
			}
		}
	}
}

// Decode unmarshals the first event argument into v.
func Decode(args []json.RawMessage, v any) error {
	if len(args) == 0 {
		return errors.New("socketio: missing event argument")
	}
	return json.Unmarshal(args[0], v)
}

// First returns the first event argument or nil.
func First(args []json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}
