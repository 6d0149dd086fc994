package model

import "time"

type Session struct {
	ID    string
	Name  string
	Role  string
	Token string
}

func (s Session) Participant() Participant {
	return Participant{ID: s.ID, Name: s.Name}
}

type Participant struct {
	ID     string `json:"_id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type Conversation struct {
	ID           string        `json:"_id"`
	Name         string        `json:"name,omitempty"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (c Conversation) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Message is immutable once the server has assigned its ID.
type Message struct {
	ID             string      `json:"_id"`
	ConversationID string      `json:"chat,omitempty"`
	Sender         Participant `json:"sender"`
	Text           string      `json:"text,omitempty"`
	Files          []string    `json:"files,omitempty"`
	Sticker        string      `json:"sticker,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

type Friend struct {
	ID     string `json:"_id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Online bool   `json:"online"`
}

type FriendRequest struct {
	ID        string      `json:"_id"`
	From      Participant `json:"from"`
	CreatedAt time.Time   `json:"createdAt"`
}

type Achievement struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

type ProfileDetails struct {
	BackgroundColor string `json:"backgroundColor,omitempty"`
	Banner          string `json:"banner,omitempty"`
	Status          string `json:"status,omitempty"`
}

type Profile struct {
	ID           string         `json:"_id"`
	Name         string         `json:"name"`
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	Avatar       string         `json:"avatar,omitempty"`
	HasSetName   bool           `json:"hasSetName"`
	Details      ProfileDetails `json:"profile"`
	Achievements []Achievement  `json:"achievements"`
}

func (p Profile) Participant() Participant {
	return Participant{ID: p.ID, Name: p.Name, Avatar: p.Avatar}
}

// TypingEntry records who is typing in a conversation and when the signal
// arrived. Since is kept so consumers can expire entries whose stop signal
// was lost.
type TypingEntry struct {
	User  Participant `json:"user"`
	Since time.Time   `json:"since"`
}

func (e TypingEntry) Stale(now time.Time, window time.Duration) bool {
	return now.Sub(e.Since) > window
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}
