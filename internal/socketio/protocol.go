package socketio

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

type enginePacketType byte

const (
	engineOpen    enginePacketType = '0'
	engineClose   enginePacketType = '1'
	enginePing    enginePacketType = '2'
	enginePong    enginePacketType = '3'
	engineMessage enginePacketType = '4'
)

type socketPacketType byte

const (
	socketConnect      socketPacketType = '0'
	socketDisconnect   socketPacketType = '1'
	socketEvent        socketPacketType = '2'
	socketConnectError socketPacketType = '4'
)

// engineOpenPacket is the handshake the server sends right after the
// websocket upgrade.
type engineOpenPacket struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload"`
}

func parseEngineOpenPacket(msg string) (engineOpenPacket, error) {
	if msg == "" || enginePacketType(msg[0]) != engineOpen {
		return engineOpenPacket{}, errors.New("not an open packet")
	}
	var open engineOpenPacket
	if err := json.Unmarshal([]byte(msg[1:]), &open); err != nil {
		return engineOpenPacket{}, err
	}
	if open.SID == "" {
		return engineOpenPacket{}, errors.New("open packet without sid")
	}
	return open, nil
}

func parseOptionalNamespace(s string) (namespace string, rest string) {
	if !strings.HasPrefix(s, "/") {
		return "/", s
	}
	comma := strings.IndexByte(s, ',')
	if comma == -1 {
		return "/", s
	}
	return s[:comma], s[comma+1:]
}

func parseOptionalIDPrefix(s string) (id *int, rest string) {
	i := 0
	for i < len(s) {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		i++
	}
	if i == 0 {
		return nil, s
	}
	v, err := strconv.Atoi(s[:i])
	if err != nil {
		return nil, s
	}
	return &v, s[i:]
}

type socketEventPacket struct {
	Namespace string
	ID        *int
	Event     string
	Args      []json.RawMessage
}

func parseSocketEventPacket(payload string) (socketEventPacket, error) {
	if payload == "" {
		return socketEventPacket{}, errors.New("empty payload")
	}
	if payload[0] != byte(socketEvent) {
		return socketEventPacket{}, errors.New("not an event packet")
	}

	ns, rest := parseOptionalNamespace(payload[1:])
	id, rest := parseOptionalIDPrefix(rest)
	if !strings.HasPrefix(rest, "[") {
		return socketEventPacket{}, errors.New("invalid event payload")
	}

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(rest), &arr); err != nil {
		return socketEventPacket{}, err
	}
	if len(arr) == 0 {
		return socketEventPacket{}, errors.New("missing event name")
	}
	var eventName string
	if err := json.Unmarshal(arr[0], &eventName); err != nil {
		return socketEventPacket{}, errors.New("invalid event name")
	}

	return socketEventPacket{Namespace: ns, ID: id, Event: eventName, Args: arr[1:]}, nil
}

func buildSocketEventPacket(namespace string, event string, args ...any) (string, error) {
	arr := make([]any, 0, 1+len(args))
	arr = append(arr, event)
	arr = append(arr, args...)
	data, err := json.Marshal(arr)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteByte(byte(socketEvent))
	writeNamespace(&b, namespace)
	b.Write(data)
	return b.String(), nil
}

// buildSocketConnectPacket carries the client auth object or, server side,
// the assigned sid. A nil data writes a bare connect packet.
func buildSocketConnectPacket(namespace string, data any) (string, error) {
	var b strings.Builder
	b.WriteByte(byte(socketConnect))
	writeNamespace(&b, namespace)
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return "", err
		}
		b.Write(raw)
	}
	return b.String(), nil
}

func buildSocketConnectErrorPacket(namespace string, message string) (string, error) {
	raw, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteByte(byte(socketConnectError))
	writeNamespace(&b, namespace)
	b.Write(raw)
	return b.String(), nil
}

// parseSocketConnectReply reads the server's answer to a connect packet:
// either CONNECT with a sid or CONNECT_ERROR with a message.
func parseSocketConnectReply(payload string) (sid string, err error) {
	if payload == "" {
		return "", errors.New("empty payload")
	}
	_, rest := parseOptionalNamespace(payload[1:])
	switch socketPacketType(payload[0]) {
	case socketConnect:
		var body struct {
			SID string `json:"sid"`
		}
		if rest != "" {
			if err := json.Unmarshal([]byte(rest), &body); err != nil {
				return "", err
			}
		}
		return body.SID, nil
	case socketConnectError:
		var body struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal([]byte(rest), &body)
		if body.Message == "" {
			body.Message = "connect rejected"
		}
		return "", &ConnectError{Message: body.Message}
	default:
		return "", errors.New("not a connect reply")
	}
}

func writeNamespace(b *strings.Builder, namespace string) {
	if namespace != "" && namespace != "/" {
		b.WriteString(namespace)
		b.WriteByte(',')
	}
}

type ConnectError struct {
	Message string
}

func (e *ConnectError) Error() string { return "socketio: connect error: " + e.Message }
