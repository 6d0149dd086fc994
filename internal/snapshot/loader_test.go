package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"chatsync/internal/model"
	"chatsync/internal/store"
)

type fakeSource struct {
	convErr    error
	friendsErr error
	release    chan struct{}
}

func (f *fakeSource) Conversations(ctx context.Context) ([]model.Conversation, error) {
	if f.release != nil {
		<-f.release
	}
	if f.convErr != nil {
		return nil, f.convErr
	}
	return []model.Conversation{{ID: "c1"}}, nil
}

func (f *fakeSource) Friends(ctx context.Context) ([]model.Friend, error) {
	if f.friendsErr != nil {
		return nil, f.friendsErr
	}
	return []model.Friend{{ID: "u2"}}, nil
}

func (f *fakeSource) FriendRequests(ctx context.Context) ([]model.FriendRequest, error) {
	return []model.FriendRequest{{ID: "r1"}}, nil
}

func (f *fakeSource) Profile(ctx context.Context) (model.Profile, error) {
	return model.Profile{ID: "u1"}, nil
}

func (f *fakeSource) Messages(ctx context.Context, id string) ([]model.Message, error) {
	return []model.Message{{ID: "m2"}, {ID: "m1"}}, nil
}

// epochPoster applies under a lock, standing in for the engine loop.
func epochPoster(s *store.Store) Poster {
	var mu sync.Mutex
	return func(epoch uint64, apply func()) {
		mu.Lock()
		defer mu.Unlock()
		if s.Epoch() != epoch {
			return
		}
		apply()
	}
}

func TestLoader_LoadAll(t *testing.T) {
	s := store.New()
	l := New(&fakeSource{}, s, epochPoster(s))
	l.LoadAll(context.Background(), s.Epoch())
	l.Wait()

	snap := s.Snapshot()
	if len(snap.Conversations) != 1 || len(snap.Friends) != 1 || len(snap.Requests) != 1 || snap.Profile == nil {
		t.Fatalf("expected every slice populated, got %+v", snap)
	}
}

func TestLoader_PartialFailure(t *testing.T) {
	s := store.New()
	l := New(&fakeSource{friendsErr: errors.New("boom")}, s, epochPoster(s))
	l.LoadAll(context.Background(), s.Epoch())
	l.Wait()

	if len(s.Friends()) != 0 {
		t.Fatalf("failed slice should stay empty")
	}
	if len(s.Conversations()) != 1 || len(s.Requests()) != 1 {
		t.Fatalf("other slices should populate")
	}
}

func TestLoader_StaleEpochDropped(t *testing.T) {
	s := store.New()
	src := &fakeSource{release: make(chan struct{})}
	l := New(src, s, epochPoster(s))

	l.RefreshConversations(context.Background(), s.Epoch())
	s.Reset()
	close(src.release)
	l.Wait()

	if len(s.Conversations()) != 0 {
		t.Fatalf("a result for an old epoch must not populate the new store")
	}
}

func TestLoader_LoadMessages(t *testing.T) {
	s := store.New()
	l := New(&fakeSource{}, s, epochPoster(s))
	if err := l.LoadMessages(context.Background(), s.Epoch(), "c1"); err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}

	msgs := s.Messages("c1")
	if len(msgs) != 2 || msgs[0].ID != "m2" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}
