package fakeserver

import (
	"encoding/json"

	"chatsync/internal/channel"
	"chatsync/internal/hub"
	"chatsync/internal/socketio"

	"github.com/tidwall/gjson"
)

func (s *Server) onEvent(c *socketio.ServerConn, event string, args []json.RawMessage) {
	switch event {
	case channel.EventRegisterUser:
		var userID string
		if err := socketio.Decode(args, &userID); err != nil || userID != c.UserID() {
			log.Warnw("registerUser rejected", "sid", c.SID(), "claimed", userID)
			return
		}
		s.register(c)

	case channel.EventJoinRoom:
		var room string
		if err := socketio.Decode(args, &room); err != nil || room == "" {
			return
		}
		if !s.db.IsMember(room, c.UserID()) {
			log.Debugw("joinRoom refused", "user", c.UserID(), "room", room)
			return
		}
		s.io.Join(c, room)

	case channel.EventSendMessage:
		s.relay(c, "room", channel.EventReceiveMessage, args)

	case channel.EventStartTyping:
		s.relay(c, "chatId", channel.EventUserTyping, args)

	case channel.EventStopTyping:
		s.relay(c, "chatId", channel.EventUserStopTyping, args)

	default:
		log.Debugw("unhandled client event", "event", event)
	}
}

func (s *Server) register(c *socketio.ServerConn) {
	s.mu.Lock()
	if _, dup := s.conns[c]; dup {
		s.mu.Unlock()
		return
	}
	conn := &hub.Connection{UserID: c.UserID(), Conn: c}
	s.conns[c] = conn
	s.mu.Unlock()

	if s.hub.Register(conn) {
		s.hub.Broadcast(c.UserID(), channel.EventUserOnline, c.UserID())
	}
	if err := c.Emit(channel.EventOnlineUsers, s.hub.Online()); err != nil {
		log.Debugw("onlineUsers emit failed", "error", err)
	}
}

// relay forwards a client event to the other members of the room named by
// the payload field roomPath.
func (s *Server) relay(c *socketio.ServerConn, roomPath, event string, args []json.RawMessage) {
	payload := socketio.First(args)
	room := gjson.GetBytes(payload, roomPath).String()
	if room == "" || !s.db.IsMember(room, c.UserID()) {
		return
	}
	s.io.EmitToRoom(room, c, event, payload)
}

func (s *Server) onDisconnect(c *socketio.ServerConn) {
	s.mu.Lock()
	conn, ok := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()
	if !ok {
		return
	}
	if s.hub.Unregister(conn) {
		s.hub.Broadcast(conn.UserID, channel.EventUserOffline, conn.UserID)
	}
}
