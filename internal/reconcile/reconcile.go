// Package reconcile applies channel events to the state store. Every event
// goes to exactly one handler; the REST-backed slices are re-fetched rather
// than patched when an event only says "something changed".
package reconcile

import (
	"encoding/json"

	"chatsync/internal/channel"
	"chatsync/internal/logging"
	"chatsync/internal/model"

	"github.com/tidwall/gjson"
)

var log = logging.Logger("reconcile")

type Store interface {
	InsertMessage(conversationID string, msg model.Message) bool
	ApplyAvatar(userID, avatar string) bool
	Current() string
}

// Refresher re-fetches one snapshot slice for the current session.
type Refresher interface {
	RefreshConversations()
	RefreshFriends()
	RefreshRequests()
	RefreshProfile()
}

type Presence interface {
	Replace(ids []string)
	Online(id string)
	Offline(id string)
}

type Typing interface {
	Typing(conversationID string, user model.Participant)
	Stopped(conversationID string)
}

type Notifier interface {
	Handle(event string, payload json.RawMessage) bool
}

type Reconciler struct {
	store    Store
	refresh  Refresher
	presence Presence
	typing   Typing
	notify   Notifier
}

func New(store Store, refresh Refresher, presence Presence, typing Typing, notify Notifier) *Reconciler {
	return &Reconciler{store: store, refresh: refresh, presence: presence, typing: typing, notify: notify}
}

// Handlers binds every inbound event to Apply. post moves the call onto
// the goroutine that owns the store.
func (r *Reconciler) Handlers(post func(fn func())) channel.Handlers {
	hs := make(channel.Handlers, len(channel.Inbound))
	for _, event := range channel.Inbound {
		hs[event] = func(args []json.RawMessage) {
			post(func() { r.Apply(event, args) })
		}
	}
	return hs
}

// LogUnknown logs events nobody handles.
func LogUnknown(event string, args []json.RawMessage) {
	log.Debugw("unhandled channel event", "event", event, "args", len(args))
}

func (r *Reconciler) Apply(event string, args []json.RawMessage) {
	var arg json.RawMessage
	if len(args) > 0 {
		arg = args[0]
	}

	switch event {
	case channel.EventOnlineUsers:
		var ids []string
		if err := json.Unmarshal(arg, &ids); err != nil {
			r.malformed(event, err)
			return
		}
		r.presence.Replace(ids)

	case channel.EventUserOnline:
		if id := userID(arg); id != "" {
			r.presence.Online(id)
		}

	case channel.EventUserOffline:
		if id := userID(arg); id != "" {
			r.presence.Offline(id)
		}

	case channel.EventAvatarUpdated:
		p := gjson.ParseBytes(arg)
		id := p.Get("userId").String()
		if id == "" {
			r.malformed(event, nil)
			return
		}
		r.store.ApplyAvatar(id, p.Get("avatar").String())

	case channel.EventReceiveMessage:
		r.receiveMessage(arg)

	case channel.EventUserTyping:
		p := gjson.ParseBytes(arg)
		chatID := p.Get("chatId").String()
		var user model.Participant
		if raw := p.Get("user"); raw.Exists() {
			if err := json.Unmarshal([]byte(raw.Raw), &user); err != nil {
				r.malformed(event, err)
				return
			}
		}
		if chatID == "" {
			r.malformed(event, nil)
			return
		}
		r.typing.Typing(chatID, user)

	case channel.EventUserStopTyping:
		chatID := gjson.GetBytes(arg, "chatId").String()
		if chatID == "" {
			r.malformed(event, nil)
			return
		}
		r.typing.Stopped(chatID)

	case channel.EventFriendRequest:
		r.refresh.RefreshRequests()
		r.notify.Handle(event, arg)

	case channel.EventFriendRequestSent:
		log.Infow("friend request sent", "payload", string(arg))

	case channel.EventFriendRequestAccepted:
		r.refresh.RefreshFriends()
		r.refresh.RefreshRequests()
		r.refresh.RefreshConversations()
		r.notify.Handle(event, arg)

	case channel.EventFriendRequestRejected:
		r.refresh.RefreshRequests()
		r.notify.Handle(event, arg)

	case channel.EventFriendAdded:
		r.refresh.RefreshFriends()
		r.refresh.RefreshConversations()
		r.notify.Handle(event, arg)

	case channel.EventFriendRemoved:
		r.refresh.RefreshFriends()
		r.notify.Handle(event, arg)

	case channel.EventAchievementUnlocked:
		r.notify.Handle(event, arg)

	default:
		LogUnknown(event, args)
	}
}

func (r *Reconciler) receiveMessage(arg json.RawMessage) {
	var in channel.MessagePayload
	if err := json.Unmarshal(arg, &in); err != nil {
		r.malformed(channel.EventReceiveMessage, err)
		return
	}
	if in.ID == "" {
		r.malformed(channel.EventReceiveMessage, nil)
		return
	}

	conv := in.Room
	if conv == "" {
		conv = in.ConversationID
	}
	if conv == "" {
		conv = r.store.Current()
	}
	if conv == "" {
		log.Warnw("message for unknown conversation dropped", "message", in.ID)
		return
	}
	if in.ConversationID == "" {
		in.ConversationID = conv
	}

	if !r.store.InsertMessage(conv, in.Message) {
		log.Debugw("duplicate message ignored", "conversation", conv, "message", in.ID)
		return
	}
	r.refresh.RefreshConversations()
}

func (r *Reconciler) malformed(event string, err error) {
	log.Warnw("malformed event payload dropped", "event", event, "error", err)
}

// userID accepts either a bare id string or an object carrying userId.
func userID(arg json.RawMessage) string {
	p := gjson.ParseBytes(arg)
	if p.Type == gjson.String {
		return p.String()
	}
	return p.Get("userId").String()
}
