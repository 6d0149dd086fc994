// Package store holds the client-side view of one session: conversations,
// messages, friendship state, presence and typing. A Store is created per
// session and Reset on teardown; Reset bumps the epoch so results that were
// in flight for the old session can be recognised and dropped.
//
// Mutators are called from a single goroutine (the engine loop). The mutex
// only protects concurrent readers.
package store

import (
	"sort"
	"sync"

	"chatsync/internal/model"
)

const notificationCapacity = 50

type Slice string

const (
	SliceAll           Slice = "all"
	SliceConversations Slice = "conversations"
	SliceMessages      Slice = "messages"
	SliceCurrent       Slice = "current"
	SliceFriends       Slice = "friends"
	SliceRequests      Slice = "requests"
	SliceProfile       Slice = "profile"
	SlicePresence      Slice = "presence"
	SliceTyping        Slice = "typing"
	SliceNotifications Slice = "notifications"
)

// Change tells subscribers which slice moved. ConversationID is set for
// message and typing changes.
type Change struct {
	Slice          Slice
	ConversationID string
	Epoch          uint64
}

type Store struct {
	mu sync.RWMutex

	epoch uint64

	conversations []model.Conversation
	messages      *messageLog
	current       string
	friends       []model.Friend
	requests      []model.FriendRequest
	profile       *model.Profile
	presence      map[string]struct{}
	typing        map[string]model.TypingEntry
	notifications *ring[model.Notification]

	subMu sync.Mutex
	subs  map[chan Change]struct{}
}

func New() *Store {
	return &Store{
		epoch:         1,
		messages:      newMessageLog(),
		presence:      make(map[string]struct{}),
		typing:        make(map[string]model.TypingEntry),
		notifications: newRing[model.Notification](notificationCapacity),
		subs:          make(map[chan Change]struct{}),
	}
}

func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Reset empties every slice and advances the epoch.
func (s *Store) Reset() uint64 {
	s.mu.Lock()
	s.epoch++
	s.conversations = nil
	s.messages = newMessageLog()
	s.current = ""
	s.friends = nil
	s.requests = nil
	s.profile = nil
	s.presence = make(map[string]struct{})
	s.typing = make(map[string]model.TypingEntry)
	s.notifications = newRing[model.Notification](notificationCapacity)
	epoch := s.epoch
	s.mu.Unlock()

	s.publish(Change{Slice: SliceAll, Epoch: epoch})
	return epoch
}

// Subscribe returns a channel of changes and a func that ends the
// subscription. Slow subscribers miss changes rather than block mutators.
func (s *Store) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 64)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, ch)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (s *Store) changed(slice Slice, conversationID string) {
	s.publish(Change{Slice: slice, ConversationID: conversationID, Epoch: s.Epoch()})
}

func (s *Store) SetConversations(convs []model.Conversation) {
	s.mu.Lock()
	s.conversations = append([]model.Conversation(nil), convs...)
	s.mu.Unlock()
	s.changed(SliceConversations, "")
}

func (s *Store) Conversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Conversation(nil), s.conversations...)
}

func (s *Store) Conversation(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.ID == id {
			return c, true
		}
	}
	return model.Conversation{}, false
}

// ConversationWith finds a conversation that includes participant userID.
func (s *Store) ConversationWith(userID string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			return c, true
		}
	}
	return model.Conversation{}, false
}

func (s *Store) SetCurrent(conversationID string) {
	s.mu.Lock()
	s.current = conversationID
	s.mu.Unlock()
	s.changed(SliceCurrent, conversationID)
}

func (s *Store) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetMessages replaces the history of a conversation. msgs is newest first.
// Stored messages missing from msgs are kept ahead of it.
func (s *Store) SetMessages(conversationID string, msgs []model.Message) {
	s.mu.Lock()
	s.messages.replace(conversationID, msgs)
	s.mu.Unlock()
	s.changed(SliceMessages, conversationID)
}

// InsertMessage prepends msg unless a message with the same ID is already
// stored for the conversation. It reports whether the message was added.
func (s *Store) InsertMessage(conversationID string, msg model.Message) bool {
	s.mu.Lock()
	added := s.messages.prepend(conversationID, msg)
	s.mu.Unlock()
	if added {
		s.changed(SliceMessages, conversationID)
	}
	return added
}

func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages.list(conversationID)
}

func (s *Store) SetFriends(friends []model.Friend) {
	s.mu.Lock()
	s.friends = append([]model.Friend(nil), friends...)
	s.mu.Unlock()
	s.changed(SliceFriends, "")
}

// Friends returns the friend list with Online filled in from the presence set.
func (s *Store) Friends() []model.Friend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Friend, len(s.friends))
	for i, f := range s.friends {
		_, f.Online = s.presence[f.ID]
		out[i] = f
	}
	return out
}

func (s *Store) SetRequests(reqs []model.FriendRequest) {
	s.mu.Lock()
	s.requests = append([]model.FriendRequest(nil), reqs...)
	s.mu.Unlock()
	s.changed(SliceRequests, "")
}

func (s *Store) Requests() []model.FriendRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.FriendRequest(nil), s.requests...)
}

// RemoveRequest drops a pending request locally, reporting whether it existed.
func (s *Store) RemoveRequest(id string) bool {
	s.mu.Lock()
	found := false
	kept := s.requests[:0:0]
	for _, r := range s.requests {
		if r.ID == id {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	s.requests = kept
	s.mu.Unlock()
	if found {
		s.changed(SliceRequests, "")
	}
	return found
}

func (s *Store) SetProfile(p model.Profile) {
	s.mu.Lock()
	s.profile = &p
	s.mu.Unlock()
	s.changed(SliceProfile, "")
}

func (s *Store) Profile() (model.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return model.Profile{}, false
	}
	p := *s.profile
	p.Achievements = append([]model.Achievement(nil), p.Achievements...)
	return p, true
}

// ApplyAvatar rewrites the avatar of userID wherever the store shows it:
// friend entry, own profile, conversation participants and message senders
// in every conversation.
func (s *Store) ApplyAvatar(userID, avatar string) bool {
	if userID == "" {
		return false
	}
	s.mu.Lock()
	changed := false
	for i := range s.friends {
		if s.friends[i].ID == userID && s.friends[i].Avatar != avatar {
			s.friends[i].Avatar = avatar
			changed = true
		}
	}
	if s.profile != nil && s.profile.ID == userID && s.profile.Avatar != avatar {
		s.profile.Avatar = avatar
		changed = true
	}
	for i := range s.conversations {
		conv := &s.conversations[i]
		for j := range conv.Participants {
			if conv.Participants[j].ID == userID && conv.Participants[j].Avatar != avatar {
				// copy: readers may hold the old slice
				ps := append([]model.Participant(nil), conv.Participants...)
				ps[j].Avatar = avatar
				conv.Participants = ps
				changed = true
			}
		}
	}
	if s.messages.applyAvatar(userID, avatar) {
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.changed(SliceAll, "")
	}
	return changed
}

func (s *Store) ReplacePresence(ids []string) {
	s.mu.Lock()
	s.presence = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			s.presence[id] = struct{}{}
		}
	}
	s.mu.Unlock()
	s.changed(SlicePresence, "")
}

// AddPresence reports whether id was newly added.
func (s *Store) AddPresence(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	_, had := s.presence[id]
	s.presence[id] = struct{}{}
	s.mu.Unlock()
	if !had {
		s.changed(SlicePresence, "")
	}
	return !had
}

// RemovePresence reports whether id was present.
func (s *Store) RemovePresence(id string) bool {
	s.mu.Lock()
	_, had := s.presence[id]
	delete(s.presence, id)
	s.mu.Unlock()
	if had {
		s.changed(SlicePresence, "")
	}
	return had
}

func (s *Store) IsOnline(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.presence[id]
	return ok
}

func (s *Store) Online() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.presence))
	for id := range s.presence {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *Store) SetTyping(conversationID string, entry model.TypingEntry) {
	s.mu.Lock()
	s.typing[conversationID] = entry
	s.mu.Unlock()
	s.changed(SliceTyping, conversationID)
}

func (s *Store) ClearTyping(conversationID string) bool {
	s.mu.Lock()
	_, had := s.typing[conversationID]
	delete(s.typing, conversationID)
	s.mu.Unlock()
	if had {
		s.changed(SliceTyping, conversationID)
	}
	return had
}

func (s *Store) ClearAllTyping() {
	s.mu.Lock()
	n := len(s.typing)
	s.typing = make(map[string]model.TypingEntry)
	s.mu.Unlock()
	if n > 0 {
		s.changed(SliceTyping, "")
	}
}

func (s *Store) Typing() map[string]model.TypingEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.TypingEntry, len(s.typing))
	for k, v := range s.typing {
		out[k] = v
	}
	return out
}

func (s *Store) TypingIn(conversationID string) (model.TypingEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.typing[conversationID]
	return e, ok
}

func (s *Store) AddNotification(n model.Notification) {
	s.mu.RLock()
	r := s.notifications
	s.mu.RUnlock()
	r.Push(n)
	s.changed(SliceNotifications, "")
}

// Notifications returns the most recent notifications, oldest first.
func (s *Store) Notifications() []model.Notification {
	s.mu.RLock()
	r := s.notifications
	s.mu.RUnlock()
	return r.Snapshot()
}

// Snapshot is a point-in-time copy of the whole store.
type Snapshot struct {
	Epoch         uint64                       `json:"epoch"`
	Current       string                       `json:"current,omitempty"`
	Conversations []model.Conversation         `json:"conversations"`
	Friends       []model.Friend               `json:"friends"`
	Requests      []model.FriendRequest        `json:"requests"`
	Profile       *model.Profile               `json:"profile,omitempty"`
	Online        []string                     `json:"online"`
	Typing        map[string]model.TypingEntry `json:"typing"`
	Notifications []model.Notification         `json:"notifications"`
}

func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Epoch:         s.Epoch(),
		Current:       s.Current(),
		Conversations: s.Conversations(),
		Friends:       s.Friends(),
		Requests:      s.Requests(),
		Online:        s.Online(),
		Typing:        s.Typing(),
		Notifications: s.Notifications(),
	}
	if p, ok := s.Profile(); ok {
		snap.Profile = &p
	}
	return snap
}
