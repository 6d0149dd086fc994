// Package engine runs one chat session at a time: it loads the snapshot,
// opens the channel, wires the trackers and reconciler to the state store
// and tears everything down again on logout or invalidation.
//
// All store mutations run on a single loop goroutine. Channel callbacks and
// REST continuations post closures to the loop tagged with the session's
// store epoch, so a result that arrives after teardown is dropped.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"chatsync/internal/api"
	"chatsync/internal/channel"
	"chatsync/internal/liveness"
	"chatsync/internal/logging"
	"chatsync/internal/model"
	"chatsync/internal/notify"
	"chatsync/internal/presence"
	"chatsync/internal/reconcile"
	"chatsync/internal/snapshot"
	"chatsync/internal/store"
	"chatsync/internal/typing"
)

var log = logging.Logger("engine")

const queueSize = 1024

var (
	ErrNoSession     = errors.New("engine: no active session")
	ErrSessionActive = errors.New("engine: a session is already active")
	ErrNotLive       = errors.New("engine: channel not live")
	ErrClosed        = errors.New("engine: closed")
	ErrNoStore       = errors.New("engine: session changed")
)

type Reason string

const (
	ReasonLogout         Reason = "logout"
	ReasonUnauthorized   Reason = "unauthorized"
	ReasonAccountDeleted Reason = "account-deleted"
	ReasonShutdown       Reason = "shutdown"
)

// Backend is the REST collaborator.
type Backend interface {
	snapshot.Source
	UserProfile(ctx context.Context, userID string) (model.Profile, error)
	UpdateProfile(ctx context.Context, update api.ProfileUpdate) (model.Profile, error)
	UploadAvatar(ctx context.Context, filename string, content io.Reader) (string, error)
	SendMessage(ctx context.Context, conversationID string, msg api.OutgoingMessage) (model.Message, error)
	CreatePrivateConversation(ctx context.Context, friendID string) (model.Conversation, error)
	SendFriendRequest(ctx context.Context, userID string) error
	AcceptFriendRequest(ctx context.Context, requestID string) error
	RejectFriendRequest(ctx context.Context, requestID string) error
	RemoveFriend(ctx context.Context, friendID string) error
	SetToken(token string)
}

// Channel is the persistent connection; see channel.Manager.
type Channel interface {
	Open(ctx context.Context, session model.Session, handlers channel.Handlers) error
	Close() error
	JoinTopic(conversationID string) error
	Emit(event string, payload any) error
	IsOpen() bool
}

// CredentialStore forgets the persisted credential on teardown.
type CredentialStore interface {
	ClearToken() error
}

type Options struct {
	Backend     Backend
	Channel     Channel
	Credentials CredentialStore
	Sink        notify.Sink
	Sounder     notify.Sounder

	LivenessInterval time.Duration
	TypingIdle       time.Duration
	TypingStale      time.Duration
	TypingThrottle   time.Duration
	Now              func() time.Time

	// OnTeardown runs on the loop once per session, after the store reset.
	OnTeardown func(session model.Session, reason Reason)
}

type Engine struct {
	opts    Options
	notices *notify.Fanout

	queue chan func()
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	mu  sync.Mutex
	run *run
}

// run is everything that belongs to one session.
type run struct {
	session model.Session
	store   *store.Store
	epoch   uint64

	ctx    context.Context
	cancel context.CancelFunc

	loader     *snapshot.Loader
	presence   *presence.Tracker
	typing     *typing.Tracker
	fanout     *notify.Fanout
	reconciler *reconcile.Reconciler
	liveness   *liveness.Monitor

	mu       sync.Mutex
	live     bool
	torndown bool

	once sync.Once
	done chan struct{}
}

func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{
		opts:    opts,
		notices: notify.New(notify.Options{Sink: opts.Sink, Now: opts.Now}),
		queue:   make(chan func(), queueSize),
		quit:    make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		select {
		case fn := <-e.queue:
			fn()
		case <-e.quit:
			return
		}
	}
}

func (e *Engine) enqueue(fn func()) bool {
	select {
	case e.queue <- fn:
		return true
	case <-e.quit:
		return false
	}
}

// post runs fn on the loop if r's store is still at r's epoch.
func (e *Engine) post(r *run, fn func()) {
	e.enqueue(func() {
		if r.store.Epoch() != r.epoch {
			return
		}
		fn()
	})
}

// call runs fn on the loop and waits for it. Never call it from the loop.
func (e *Engine) call(fn func()) error {
	done := make(chan struct{})
	if !e.enqueue(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-e.quit:
		return ErrClosed
	}
}

// callIn is call with the epoch check of post. It returns ErrNoStore when
// the session changed before fn could run.
func (e *Engine) callIn(r *run, fn func()) error {
	applied := false
	err := e.call(func() {
		if r.store.Epoch() != r.epoch {
			return
		}
		applied = true
		fn()
	})
	if err != nil {
		return err
	}
	if !applied {
		return ErrNoStore
	}
	return nil
}

// Start begins a session: the snapshot fetches and the liveness monitor
// start right away, then the channel is opened. If the channel cannot be
// opened the session stays up, loaded but not live, and the returned error
// wraps ErrNotLive.
func (e *Engine) Start(ctx context.Context, session model.Session) error {
	if session.ID == "" || session.Token == "" {
		return errors.New("engine: session needs an id and a token")
	}

	e.mu.Lock()
	if e.run != nil && !e.run.finished() {
		e.mu.Unlock()
		return ErrSessionActive
	}
	r := e.newRun(session)
	e.run = r
	e.mu.Unlock()

	log.Infow("session starting", "user", session.ID)
	e.opts.Backend.SetToken(session.Token)
	r.loader.LoadAll(r.ctx, r.epoch)
	r.liveness.Start(r.ctx)

	handlers := r.reconciler.Handlers(func(fn func()) { e.post(r, fn) })
	if err := e.opts.Channel.Open(ctx, session, handlers); err != nil {
		log.Warnw("channel unavailable, session is loaded but not live", "error", err)
		return fmt.Errorf("%w: %v", ErrNotLive, err)
	}

	r.mu.Lock()
	torndown := r.torndown
	r.live = !torndown
	r.mu.Unlock()
	if torndown {
		// teardown ran while the channel was opening
		_ = e.opts.Channel.Close()
		return ErrNoSession
	}
	return nil
}

func (e *Engine) newRun(session model.Session) *run {
	st := store.New()
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		session: session,
		store:   st,
		epoch:   st.Epoch(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	r.loader = snapshot.New(e.opts.Backend, st, func(epoch uint64, apply func()) {
		e.enqueue(func() {
			if st.Epoch() != epoch {
				return
			}
			apply()
		})
	})
	r.presence = presence.New(st)
	r.typing = typing.New(e.opts.Channel, st, session.Participant(), typing.Options{
		Idle:     e.opts.TypingIdle,
		Stale:    e.opts.TypingStale,
		Throttle: e.opts.TypingThrottle,
		Now:      e.opts.Now,
	})
	refresh := refresher{r: r}
	r.fanout = notify.New(notify.Options{
		Sink:           e.opts.Sink,
		Recorder:       st,
		Sounder:        e.opts.Sounder,
		RefreshProfile: refresh.RefreshProfile,
		Now:            e.opts.Now,
	})
	r.reconciler = reconcile.New(st, refresh, r.presence, r.typing, r.fanout)
	r.liveness = liveness.New(func(ctx context.Context) error {
		_, err := e.opts.Backend.Profile(ctx)
		return err
	}, e.opts.LivenessInterval, func() { e.accountDeleted(r) })
	return r
}

// refresher re-fetches single slices for the run it belongs to.
type refresher struct {
	r *run
}

func (f refresher) RefreshConversations() { f.r.loader.RefreshConversations(f.r.ctx, f.r.epoch) }
func (f refresher) RefreshFriends()       { f.r.loader.RefreshFriends(f.r.ctx, f.r.epoch) }
func (f refresher) RefreshRequests()      { f.r.loader.RefreshRequests(f.r.ctx, f.r.epoch) }
func (f refresher) RefreshProfile()       { f.r.loader.RefreshProfile(f.r.ctx, f.r.epoch) }

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (e *Engine) current() (*run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil || e.run.finished() {
		return nil, ErrNoSession
	}
	r := e.run
	r.mu.Lock()
	torndown := r.torndown
	r.mu.Unlock()
	if torndown {
		return nil, ErrNoSession
	}
	return r, nil
}

// Logout tears the session down and waits until it is gone.
func (e *Engine) Logout() error {
	r, err := e.current()
	if err != nil {
		return err
	}
	e.teardown(r, ReasonLogout)
	select {
	case <-r.done:
		return nil
	case <-e.quit:
		return ErrClosed
	}
}

// Invalidate tears the session down because the server rejected its
// credential. It does not wait and may be called from any goroutine,
// any number of times.
func (e *Engine) Invalidate() {
	r, err := e.current()
	if err != nil {
		return
	}
	e.teardown(r, ReasonUnauthorized)
}

// Teardown ends the active session for reason. Repeated calls are no-ops.
func (e *Engine) Teardown(reason Reason) {
	if r, err := e.current(); err == nil {
		e.teardown(r, reason)
	}
}

// ChannelLost records that the channel is gone for good. The session keeps
// its loaded state.
func (e *Engine) ChannelLost(err error) {
	r, cerr := e.current()
	if cerr != nil {
		return
	}
	r.mu.Lock()
	r.live = false
	r.mu.Unlock()
	log.Warnw("session is no longer live", "user", r.session.ID, "error", err)
}

// UnknownEvent logs channel events without a handler.
func (e *Engine) UnknownEvent(event string, args []json.RawMessage) {
	reconcile.LogUnknown(event, args)
}

func (e *Engine) accountDeleted(r *run) {
	e.notices.AccountDeleted()
	e.teardown(r, ReasonAccountDeleted)
}

func (e *Engine) teardown(r *run, reason Reason) {
	r.once.Do(func() {
		r.mu.Lock()
		r.torndown = true
		r.live = false
		r.mu.Unlock()
		if !e.enqueue(func() { e.finishTeardown(r, reason) }) {
			e.finishTeardown(r, reason)
		}
	})
}

// finishTeardown stops every producer before clearing the store so nothing
// can repopulate it.
func (e *Engine) finishTeardown(r *run, reason Reason) {
	r.liveness.Stop()
	if err := e.opts.Channel.Close(); err != nil {
		log.Debugw("channel close", "error", err)
	}
	r.typing.Close()
	r.cancel()
	r.store.Reset()

	e.opts.Backend.SetToken("")
	// a shutdown keeps the persisted credential for the next run
	if e.opts.Credentials != nil && reason != ReasonShutdown {
		if err := e.opts.Credentials.ClearToken(); err != nil {
			log.Warnw("clearing persisted credential failed", "error", err)
		}
	}
	log.Infow("session torn down", "user", r.session.ID, "reason", reason)
	if e.opts.OnTeardown != nil {
		e.opts.OnTeardown(r.session, reason)
	}
	close(r.done)
}

// Close tears down any active session and stops the loop.
func (e *Engine) Close() {
	if r, err := e.current(); err == nil {
		e.teardown(r, ReasonShutdown)
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
			log.Warnw("teardown did not finish before shutdown")
		}
	}
	e.once.Do(func() { close(e.quit) })
	e.wg.Wait()
}

// Store returns the active session's store, or an empty one.
func (e *Engine) Store() *store.Store {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return store.New()
	}
	return e.run.store
}

func (e *Engine) Session() (model.Session, bool) {
	r, err := e.current()
	if err != nil {
		return model.Session{}, false
	}
	return r.session, true
}

// State is "active" while a session runs, "terminated" after teardown and
// "idle" before the first session.
func (e *Engine) State() liveness.State {
	e.mu.Lock()
	r := e.run
	e.mu.Unlock()
	if r == nil {
		return liveness.StateIdle
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.torndown {
		return liveness.StateTerminated
	}
	return liveness.StateActive
}

// Live reports whether the active session has an open channel.
func (e *Engine) Live() bool {
	r, err := e.current()
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live && e.opts.Channel.IsOpen()
}

// Done is closed when the current session has been torn down.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return e.run.done
}

// Sync waits until every closure posted so far has run.
func (e *Engine) Sync() error {
	return e.call(func() {})
}
