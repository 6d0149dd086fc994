package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"chatsync/internal/api"
	"chatsync/internal/channel"
	"chatsync/internal/model"
)

// JoinConversation makes id the current conversation, joins its topic and
// loads its history. The history has landed in the store when it returns.
func (e *Engine) JoinConversation(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("engine: empty conversation id")
	}
	r, err := e.current()
	if err != nil {
		return err
	}
	rctx, cancel := e.bind(ctx, r)
	defer cancel()

	if err := e.callIn(r, func() { r.store.SetCurrent(id) }); err != nil {
		return err
	}
	if err := e.opts.Channel.JoinTopic(id); err != nil {
		log.Debugw("join topic", "conversation", id, "error", err)
	}
	if err := r.loader.LoadMessages(rctx, r.epoch, id); err != nil {
		return fmt.Errorf("load messages for %s: %w", id, err)
	}
	// the load posted its result; wait for it to be applied
	return e.callIn(r, func() {})
}

// SendMessage posts a message to conversationID, or to the current
// conversation when it is empty. The server's copy is inserted locally and
// broadcast to the conversation's room.
func (e *Engine) SendMessage(ctx context.Context, conversationID, text string, attachments []api.Attachment) (model.Message, error) {
	r, err := e.current()
	if err != nil {
		return model.Message{}, err
	}
	rctx, cancel := e.bind(ctx, r)
	defer cancel()

	if conversationID == "" {
		conversationID = r.store.Current()
	}
	if conversationID == "" {
		return model.Message{}, errors.New("engine: no conversation selected")
	}
	if text == "" && len(attachments) == 0 {
		return model.Message{}, errors.New("engine: empty message")
	}

	msg, err := e.opts.Backend.SendMessage(rctx, conversationID, api.OutgoingMessage{Text: text, Files: attachments})
	if err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}

	err = e.callIn(r, func() {
		r.store.InsertMessage(conversationID, msg)
		if err := e.opts.Channel.Emit(channel.EventSendMessage, channel.MessagePayload{Room: conversationID, Message: msg}); err != nil {
			log.Debugw("broadcast message", "conversation", conversationID, "error", err)
		}
		r.typing.StopTyping(conversationID)
		refresher{r: r}.RefreshConversations()
	})
	return msg, err
}

func (e *Engine) StartTyping(conversationID string) error {
	r, err := e.current()
	if err != nil {
		return err
	}
	r.typing.StartTyping(conversationID)
	return nil
}

func (e *Engine) StopTyping(conversationID string) error {
	r, err := e.current()
	if err != nil {
		return err
	}
	r.typing.StopTyping(conversationID)
	return nil
}

// StartChatWithUser opens the private conversation with friendID, creating
// it on the server if none exists yet, and joins it.
func (e *Engine) StartChatWithUser(ctx context.Context, friendID string) (model.Conversation, error) {
	r, err := e.current()
	if err != nil {
		return model.Conversation{}, err
	}
	if conv, ok := r.store.ConversationWith(friendID); ok {
		return conv, e.JoinConversation(ctx, conv.ID)
	}

	rctx, cancel := e.bind(ctx, r)
	defer cancel()
	conv, err := e.opts.Backend.CreatePrivateConversation(rctx, friendID)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("create conversation with %s: %w", friendID, err)
	}
	convs, err := e.opts.Backend.Conversations(rctx)
	if err != nil {
		log.Warnw("refreshing conversations after create failed", "error", err)
	} else if err := e.callIn(r, func() { r.store.SetConversations(convs) }); err != nil {
		return model.Conversation{}, err
	}
	return conv, e.JoinConversation(ctx, conv.ID)
}

func (e *Engine) SendFriendRequest(ctx context.Context, userID string) error {
	r, err := e.current()
	if err != nil {
		return err
	}
	rctx, cancel := e.bind(ctx, r)
	defer cancel()

	if err := e.opts.Backend.SendFriendRequest(rctx, userID); err != nil {
		return fmt.Errorf("send friend request: %w", err)
	}
	return nil
}

func (e *Engine) AcceptRequest(ctx context.Context, requestID string) error {
	r, err := e.current()
	if err != nil {
		return err
	}
	rctx, cancel := e.bind(ctx, r)
	defer cancel()

	if err := e.opts.Backend.AcceptFriendRequest(rctx, requestID); err != nil {
		return fmt.Errorf("accept request: %w", err)
	}
	return e.callIn(r, func() {
		r.store.RemoveRequest(requestID)
		refresh := refresher{r: r}
		refresh.RefreshFriends()
		refresh.RefreshRequests()
		refresh.RefreshConversations()
	})
}

func (e *Engine) RejectRequest(ctx context.Context, requestID string) error {
	r, err := e.current()
	if err != nil {
		return err
	}
	rctx, cancel := e.bind(ctx, r)
	defer cancel()

	if err := e.opts.Backend.RejectFriendRequest(rctx, requestID); err != nil {
		return fmt.Errorf("reject request: %w", err)
	}
	return e.callIn(r, func() {
		r.store.RemoveRequest(requestID)
		refresher{r: r}.RefreshRequests()
	})
}

func (e *Engine) RemoveFriend(ctx context.Context, friendID string) error {
	r, err := e.current()
	if err != nil {
		return err
	}
	rctx, cancel := e.bind(ctx, r)
	defer cancel()

	if err := e.opts.Backend.RemoveFriend(rctx, friendID); err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}
	return e.callIn(r, func() { refresher{r: r}.RefreshFriends() })
}

// UpdateProfile sends patch and stores the server's profile. When the
// server answers without one the patch is merged into the stored profile.
func (e *Engine) UpdateProfile(ctx context.Context, patch api.ProfileUpdate) (model.Profile, error) {
	r, err := e.current()
	if err != nil {
		return model.Profile{}, err
	}
	rctx, cancel := e.bind(ctx, r)
	defer cancel()

	p, err := e.opts.Backend.UpdateProfile(rctx, patch)
	if err != nil {
		return model.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	err = e.callIn(r, func() {
		if p.ID == "" {
			p, _ = r.store.Profile()
			if patch.Name != nil {
				p.Name = *patch.Name
				p.HasSetName = true
			}
			if patch.Profile != nil {
				p.Details = *patch.Profile
			}
		}
		r.store.SetProfile(p)
	})
	return p, err
}

// UploadAvatar uploads a new avatar for the session user and patches every
// place the old one is shown.
func (e *Engine) UploadAvatar(ctx context.Context, filename string, content io.Reader) (string, error) {
	r, err := e.current()
	if err != nil {
		return "", err
	}
	rctx, cancel := e.bind(ctx, r)
	defer cancel()

	url, err := e.opts.Backend.UploadAvatar(rctx, filename, content)
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	err = e.callIn(r, func() { r.store.ApplyAvatar(r.session.ID, url) })
	return url, err
}

// FetchUserProfile reads another user's profile. Nothing is stored.
func (e *Engine) FetchUserProfile(ctx context.Context, userID string) (model.Profile, error) {
	r, err := e.current()
	if err != nil {
		return model.Profile{}, err
	}
	rctx, cancel := e.bind(ctx, r)
	defer cancel()

	p, err := e.opts.Backend.UserProfile(rctx, userID)
	if err != nil {
		return model.Profile{}, fmt.Errorf("fetch profile %s: %w", userID, err)
	}
	return p, nil
}

// bind returns a context that is also cancelled when r is torn down.
func (e *Engine) bind(ctx context.Context, r *run) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
