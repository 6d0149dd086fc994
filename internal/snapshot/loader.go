// Package snapshot fetches the request/response half of the session state:
// conversations, friends, pending requests and the own profile, each on its
// own goroutine.
package snapshot

import (
	"context"
	"sync"

	"chatsync/internal/logging"
	"chatsync/internal/model"
)

var log = logging.Logger("snapshot")

type Source interface {
	Conversations(ctx context.Context) ([]model.Conversation, error)
	Friends(ctx context.Context) ([]model.Friend, error)
	FriendRequests(ctx context.Context) ([]model.FriendRequest, error)
	Profile(ctx context.Context) (model.Profile, error)
	Messages(ctx context.Context, conversationID string) ([]model.Message, error)
}

type Store interface {
	SetConversations(convs []model.Conversation)
	SetFriends(friends []model.Friend)
	SetRequests(reqs []model.FriendRequest)
	SetProfile(p model.Profile)
	SetMessages(conversationID string, msgs []model.Message)
}

// Poster runs apply on the goroutine that owns the store, but only if the
// store is still at epoch.
type Poster func(epoch uint64, apply func())

type Loader struct {
	src   Source
	store Store
	post  Poster

	wg sync.WaitGroup
}

func New(src Source, store Store, post Poster) *Loader {
	return &Loader{src: src, store: store, post: post}
}

// LoadAll starts the four snapshot fetches. A failed fetch leaves its slice
// as it was; the others still land.
func (l *Loader) LoadAll(ctx context.Context, epoch uint64) {
	l.RefreshConversations(ctx, epoch)
	l.RefreshFriends(ctx, epoch)
	l.RefreshRequests(ctx, epoch)
	l.RefreshProfile(ctx, epoch)
}

func (l *Loader) RefreshConversations(ctx context.Context, epoch uint64) {
	l.fetch(ctx, epoch, "conversations", func(ctx context.Context) (func(), error) {
		convs, err := l.src.Conversations(ctx)
		if err != nil {
			return nil, err
		}
		return func() { l.store.SetConversations(convs) }, nil
	})
}

func (l *Loader) RefreshFriends(ctx context.Context, epoch uint64) {
	l.fetch(ctx, epoch, "friends", func(ctx context.Context) (func(), error) {
		friends, err := l.src.Friends(ctx)
		if err != nil {
			return nil, err
		}
		return func() { l.store.SetFriends(friends) }, nil
	})
}

func (l *Loader) RefreshRequests(ctx context.Context, epoch uint64) {
	l.fetch(ctx, epoch, "requests", func(ctx context.Context) (func(), error) {
		reqs, err := l.src.FriendRequests(ctx)
		if err != nil {
			return nil, err
		}
		return func() { l.store.SetRequests(reqs) }, nil
	})
}

func (l *Loader) RefreshProfile(ctx context.Context, epoch uint64) {
	l.fetch(ctx, epoch, "profile", func(ctx context.Context) (func(), error) {
		p, err := l.src.Profile(ctx)
		if err != nil {
			return nil, err
		}
		return func() { l.store.SetProfile(p) }, nil
	})
}

// LoadMessages replaces the history of one conversation (newest first). It
// fetches on the calling goroutine and returns the fetch error; the result
// is applied through the poster like every other slice.
func (l *Loader) LoadMessages(ctx context.Context, epoch uint64, conversationID string) error {
	msgs, err := l.src.Messages(ctx, conversationID)
	if err != nil {
		log.Warnw("message history fetch failed", "conversation", conversationID, "error", err)
		return err
	}
	l.post(epoch, func() { l.store.SetMessages(conversationID, msgs) })
	return nil
}

// Wait blocks until every started fetch has returned.
func (l *Loader) Wait() {
	l.wg.Wait()
}

func (l *Loader) fetch(ctx context.Context, epoch uint64, slice string, get func(ctx context.Context) (func(), error)) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		apply, err := get(ctx)
		if err != nil {
			log.Warnw("snapshot fetch failed", "slice", slice, "epoch", epoch, "error", err)
			return
		}
		l.post(epoch, apply)
	}()
}
