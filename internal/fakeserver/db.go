package fakeserver

import (
	"errors"
	"sort"
	"sync"
	"time"

	"chatsync/internal/model"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrBadRequest = errors.New("bad request")
)

type user struct {
	profile model.Profile
	friends map[string]struct{}
	deleted bool
}

type request struct {
	id        string
	from      string
	to        string
	createdAt time.Time
}

type conversation struct {
	id        string
	members   []string
	updatedAt time.Time
}

// DB is the backend's in-memory data. Messages are kept newest first, the
// order the real backend returns them in.
type DB struct {
	mu       sync.Mutex
	now      func() time.Time
	users    map[string]*user
	requests map[string]*request
	convs    map[string]*conversation
	messages map[string][]model.Message
}

func NewDB(now func() time.Time) *DB {
	if now == nil {
		now = time.Now
	}
	return &DB{
		now:      now,
		users:    make(map[string]*user),
		requests: make(map[string]*request),
		convs:    make(map[string]*conversation),
		messages: make(map[string][]model.Message),
	}
}

func (d *DB) AddUser(name string) model.Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := model.Profile{ID: uuid.NewString(), Name: name, Role: "user", HasSetName: name != ""}
	d.users[p.ID] = &user{profile: p, friends: make(map[string]struct{})}
	return p
}

func (d *DB) Exists(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.live(id)
	return ok
}

func (d *DB) Delete(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[id]; ok {
		u.deleted = true
	}
}

func (d *DB) Profile(id string) (model.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.live(id)
	if !ok {
		return model.Profile{}, ErrNotFound
	}
	return copyProfile(u.profile), nil
}

func (d *DB) UpdateProfile(id string, name *string, details *model.ProfileDetails) (model.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.live(id)
	if !ok {
		return model.Profile{}, ErrNotFound
	}
	if name != nil {
		if *name == "" {
			return model.Profile{}, ErrBadRequest
		}
		u.profile.Name = *name
		u.profile.HasSetName = true
	}
	if details != nil {
		u.profile.Details = *details
	}
	return copyProfile(u.profile), nil
}

func (d *DB) SetAvatar(id, avatar string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.live(id)
	if !ok {
		return ErrNotFound
	}
	u.profile.Avatar = avatar
	return nil
}

func (d *DB) GrantAchievement(id string, a model.Achievement) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.live(id)
	if !ok {
		return ErrNotFound
	}
	u.profile.Achievements = append(u.profile.Achievements, a)
	return nil
}

func (d *DB) Participant(id string) model.Participant {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.participant(id)
}

func (d *DB) Friends(id string) []model.Friend {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.live(id)
	if !ok {
		return nil
	}
	out := make([]model.Friend, 0, len(u.friends))
	for fid := range u.friends {
		p := d.participant(fid)
		out = append(out, model.Friend{ID: p.ID, Name: p.Name, Avatar: p.Avatar})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FriendIDs returns the ids of id's friends.
func (d *DB) FriendIDs(id string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.live(id)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(u.friends))
	for fid := range u.friends {
		ids = append(ids, fid)
	}
	sort.Strings(ids)
	return ids
}

// Requests returns the pending requests addressed to id.
func (d *DB) Requests(id string) []model.FriendRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.FriendRequest
	for _, r := range d.requests {
		if r.to == id {
			out = append(out, model.FriendRequest{ID: r.id, From: d.participant(r.from), CreatedAt: r.createdAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (d *DB) CreateRequest(from, to string) (model.FriendRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sender, ok := d.live(from)
	if !ok {
		return model.FriendRequest{}, ErrNotFound
	}
	if _, ok := d.live(to); !ok {
		return model.FriendRequest{}, ErrNotFound
	}
	if from == to {
		return model.FriendRequest{}, ErrBadRequest
	}
	if _, friends := sender.friends[to]; friends {
		return model.FriendRequest{}, ErrConflict
	}
	for _, r := range d.requests {
		if (r.from == from && r.to == to) || (r.from == to && r.to == from) {
			return model.FriendRequest{}, ErrConflict
		}
	}
	r := &request{id: uuid.NewString(), from: from, to: to, createdAt: d.now()}
	d.requests[r.id] = r
	return model.FriendRequest{ID: r.id, From: d.participant(from), CreatedAt: r.createdAt}, nil
}

// Accept makes the request's sender and recipient friends. It returns the
// sender's id.
func (d *DB) Accept(userID, requestID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.pending(userID, requestID)
	if err != nil {
		return "", err
	}
	delete(d.requests, requestID)
	a, aok := d.live(r.from)
	b, bok := d.live(r.to)
	if !aok || !bok {
		return "", ErrNotFound
	}
	a.friends[r.to] = struct{}{}
	b.friends[r.from] = struct{}{}
	return r.from, nil
}

// Reject drops the request and returns the sender's id.
func (d *DB) Reject(userID, requestID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.pending(userID, requestID)
	if err != nil {
		return "", err
	}
	delete(d.requests, requestID)
	return r.from, nil
}

func (d *DB) RemoveFriend(userID, friendID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.live(userID)
	if !ok {
		return ErrNotFound
	}
	if _, friends := a.friends[friendID]; !friends {
		return ErrNotFound
	}
	delete(a.friends, friendID)
	if b, ok := d.users[friendID]; ok {
		delete(b.friends, userID)
	}
	return nil
}

// MakeFriends links a and b directly, skipping the request flow.
func (d *DB) MakeFriends(a, b string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ua, aok := d.live(a)
	ub, bok := d.live(b)
	if !aok || !bok {
		return ErrNotFound
	}
	ua.friends[b] = struct{}{}
	ub.friends[a] = struct{}{}
	return nil
}

// Conversations returns id's conversations, most recently active first.
func (d *DB) Conversations(id string) []model.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	var convs []*conversation
	for _, c := range d.convs {
		if contains(c.members, id) {
			convs = append(convs, c)
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].updatedAt.After(convs[j].updatedAt) })

	out := make([]model.Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, d.conversation(c))
	}
	return out
}

// PrivateConversation returns the conversation between a and b, creating
// it if needed. Only friends may start one.
func (d *DB) PrivateConversation(a, b string) (model.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ua, ok := d.live(a)
	if !ok {
		return model.Conversation{}, ErrNotFound
	}
	if _, ok := d.live(b); !ok {
		return model.Conversation{}, ErrNotFound
	}
	if _, friends := ua.friends[b]; !friends {
		return model.Conversation{}, ErrForbidden
	}
	for _, c := range d.convs {
		if len(c.members) == 2 && contains(c.members, a) && contains(c.members, b) {
			return d.conversation(c), nil
		}
	}
	c := &conversation{id: uuid.NewString(), members: []string{a, b}, updatedAt: d.now()}
	d.convs[c.id] = c
	return d.conversation(c), nil
}

func (d *DB) IsMember(conversationID, userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.convs[conversationID]
	return ok && contains(c.members, userID)
}

func (d *DB) Messages(conversationID, userID string) ([]model.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.convs[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	if !contains(c.members, userID) {
		return nil, ErrForbidden
	}
	msgs := d.messages[conversationID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (d *DB) AddMessage(conversationID, senderID string, msg model.Message) (model.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.convs[conversationID]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	if !contains(c.members, senderID) {
		return model.Message{}, ErrForbidden
	}
	if msg.Text == "" && msg.Sticker == "" && len(msg.Files) == 0 {
		return model.Message{}, ErrBadRequest
	}
	msg.ID = uuid.NewString()
	msg.ConversationID = conversationID
	msg.Sender = d.participant(senderID)
	msg.CreatedAt = d.now()
	c.updatedAt = msg.CreatedAt
	d.messages[conversationID] = append([]model.Message{msg}, d.messages[conversationID]...)
	return msg, nil
}

func (d *DB) live(id string) (*user, bool) {
	u, ok := d.users[id]
	if !ok || u.deleted {
		return nil, false
	}
	return u, true
}

func (d *DB) pending(userID, requestID string) (*request, error) {
	r, ok := d.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.to != userID {
		return nil, ErrForbidden
	}
	return r, nil
}

func (d *DB) participant(id string) model.Participant {
	u, ok := d.users[id]
	if !ok {
		return model.Participant{ID: id}
	}
	return u.profile.Participant()
}

func (d *DB) conversation(c *conversation) model.Conversation {
	out := model.Conversation{ID: c.id, UpdatedAt: c.updatedAt}
	for _, id := range c.members {
		out.Participants = append(out.Participants, d.participant(id))
	}
	if msgs := d.messages[c.id]; len(msgs) > 0 {
		last := msgs[0]
		out.LastMessage = &last
	}
	return out
}

func copyProfile(p model.Profile) model.Profile {
	p.Achievements = append([]model.Achievement(nil), p.Achievements...)
	return p
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
