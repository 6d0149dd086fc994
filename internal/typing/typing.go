// Package typing tracks typing indicators in both directions: our own
// keystrokes (throttled startTyping, debounced stopTyping) and the peers'
// signals received over the channel.
package typing

import (
	"sync"
	"time"

	"chatsync/internal/logging"
	"chatsync/internal/middleware"
	"chatsync/internal/model"
)

var log = logging.Logger("typing")

const (
	EventStartTyping = "startTyping"
	EventStopTyping  = "stopTyping"
)

type Emitter interface {
	Emit(event string, payload any) error
}

// Store is the part of the state store holding received typing entries.
type Store interface {
	SetTyping(conversationID string, entry model.TypingEntry)
	ClearTyping(conversationID string) bool
	ClearAllTyping()
	Typing() map[string]model.TypingEntry
}

type Options struct {
	// Idle is how long after the last keystroke stopTyping goes out.
	Idle time.Duration
	// Stale is how old a received entry may get before consumers ignore it.
	Stale time.Duration
	// Throttle bounds startTyping emits per conversation.
	Throttle time.Duration
	Now      func() time.Time
}

type StartPayload struct {
	ChatID string            `json:"chatId"`
	User   model.Participant `json:"user"`
}

type StopPayload struct {
	ChatID string `json:"chatId"`
}

type Tracker struct {
	emitter Emitter
	store   Store
	self    model.Participant
	opts    Options
	limiter *middleware.RateLimiter

	mu     sync.Mutex
	timers map[string]*idleTimer
	seq    uint64
}

type idleTimer struct {
	timer *time.Timer
	seq   uint64
}

func New(emitter Emitter, store Store, self model.Participant, opts Options) *Tracker {
	if opts.Idle <= 0 {
		opts.Idle = 2 * time.Second
	}
	if opts.Stale <= 0 {
		opts.Stale = 5 * time.Second
	}
	if opts.Throttle <= 0 {
		opts.Throttle = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		emitter: emitter,
		store:   store,
		self:    model.Participant{ID: self.ID, Name: self.Name},
		opts:    opts,
		limiter: middleware.NewRateLimiterWithNow(1, opts.Throttle, opts.Now),
		timers:  make(map[string]*idleTimer),
	}
}

// StartTyping records a keystroke in conversationID. The first keystroke of
// a burst emits startTyping; every keystroke pushes the idle deadline back.
func (t *Tracker) StartTyping(conversationID string) {
	if conversationID == "" {
		return
	}
	t.mu.Lock()
	if prev, ok := t.timers[conversationID]; ok {
		prev.timer.Stop()
	}
	t.seq++
	seq := t.seq
	t.timers[conversationID] = &idleTimer{
		seq:   seq,
		timer: time.AfterFunc(t.opts.Idle, func() { t.expire(conversationID, seq) }),
	}
	t.mu.Unlock()

	if !t.limiter.Allow(conversationID) {
		return
	}
	t.emit(EventStartTyping, StartPayload{ChatID: conversationID, User: t.self})
}

// StopTyping cancels the idle timer and emits stopTyping right away.
func (t *Tracker) StopTyping(conversationID string) {
	if conversationID == "" {
		return
	}
	t.mu.Lock()
	if prev, ok := t.timers[conversationID]; ok {
		prev.timer.Stop()
		delete(t.timers, conversationID)
	}
	t.mu.Unlock()

	t.limiter.Forget(conversationID)
	t.emit(EventStopTyping, StopPayload{ChatID: conversationID})
}

func (t *Tracker) expire(conversationID string, seq uint64) {
	t.mu.Lock()
	cur, ok := t.timers[conversationID]
	if !ok || cur.seq != seq {
		t.mu.Unlock()
		return
	}
	delete(t.timers, conversationID)
	t.mu.Unlock()

	t.limiter.Forget(conversationID)
	t.emit(EventStopTyping, StopPayload{ChatID: conversationID})
}

// Pending reports whether a stopTyping is scheduled for conversationID.
func (t *Tracker) Pending(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[conversationID]
	return ok
}

func (t *Tracker) emit(event string, payload any) {
	if err := t.emitter.Emit(event, payload); err != nil {
		log.Debugw("typing emit failed", "event", event, "error", err)
	}
}

// Typing stores a peer's typing signal. One typer per conversation; a newer
// signal replaces the older one.
func (t *Tracker) Typing(conversationID string, user model.Participant) {
	if conversationID == "" {
		return
	}
	t.store.SetTyping(conversationID, model.TypingEntry{User: user, Since: t.opts.Now()})
}

// Stopped removes the entry for conversationID regardless of its age.
func (t *Tracker) Stopped(conversationID string) {
	t.store.ClearTyping(conversationID)
}

// Active returns the received entries younger than the stale window.
func (t *Tracker) Active(now time.Time) map[string]model.TypingEntry {
	out := make(map[string]model.TypingEntry)
	for conv, e := range t.store.Typing() {
		if !e.Stale(now, t.opts.Stale) {
			out[conv] = e
		}
	}
	return out
}

// Clear cancels every pending timer without emitting and drops all
// received entries.
func (t *Tracker) Clear() {
	t.mu.Lock()
	for conv, it := range t.timers {
		it.timer.Stop()
		delete(t.timers, conv)
	}
	t.mu.Unlock()

	t.limiter.ForgetAll()
	t.store.ClearAllTyping()
}

// Close clears the tracker and releases the throttle's goroutine.
func (t *Tracker) Close() {
	t.Clear()
	t.limiter.Stop()
}
