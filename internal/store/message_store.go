package store

import (
	"chatsync/internal/model"
)

// messageLog keeps each conversation's messages newest first, with an ID
// index for de-duplication. Callers hold Store.mu.
type messageLog struct {
	data map[string][]model.Message
	seen map[string]map[string]struct{}
}

func newMessageLog() *messageLog {
	return &messageLog{
		data: make(map[string][]model.Message),
		seen: make(map[string]map[string]struct{}),
	}
}

// replace installs a history snapshot. Stored messages absent from the
// snapshot stay in front of it.
func (m *messageLog) replace(conversationID string, msgs []model.Message) {
	inSnapshot := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if msg.ID != "" {
			inSnapshot[msg.ID] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(msgs))
	kept := make([]model.Message, 0, len(msgs))
	add := func(msg model.Message) {
		if msg.ID != "" {
			if _, dup := seen[msg.ID]; dup {
				return
			}
			seen[msg.ID] = struct{}{}
		}
		kept = append(kept, msg)
	}
	for _, msg := range m.data[conversationID] {
		if _, ok := inSnapshot[msg.ID]; !ok || msg.ID == "" {
			add(msg)
		}
	}
	for _, msg := range msgs {
		add(msg)
	}
	m.data[conversationID] = kept
	m.seen[conversationID] = seen
}

// prepend adds msg at the front in arrival order. Stored order is never
// re-sorted by timestamp.
func (m *messageLog) prepend(conversationID string, msg model.Message) bool {
	seen, ok := m.seen[conversationID]
	if !ok {
		seen = make(map[string]struct{})
		m.seen[conversationID] = seen
	}
	if msg.ID != "" {
		if _, dup := seen[msg.ID]; dup {
			return false
		}
		seen[msg.ID] = struct{}{}
	}

	old := m.data[conversationID]
	next := make([]model.Message, 0, len(old)+1)
	next = append(next, msg)
	next = append(next, old...)
	m.data[conversationID] = next
	return true
}

func (m *messageLog) list(conversationID string) []model.Message {
	msgs := m.data[conversationID]
	if len(msgs) == 0 {
		return nil
	}
	return append([]model.Message(nil), msgs...)
}

func (m *messageLog) applyAvatar(userID, avatar string) bool {
	changed := false
	for conv, msgs := range m.data {
		var next []model.Message
		for i, msg := range msgs {
			if msg.Sender.ID != userID || msg.Sender.Avatar == avatar {
				continue
			}
			if next == nil {
				next = append([]model.Message(nil), msgs...)
			}
			next[i].Sender.Avatar = avatar
		}
		if next != nil {
			m.data[conv] = next
			changed = true
		}
	}
	return changed
}
