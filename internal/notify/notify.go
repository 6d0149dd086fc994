// Package notify turns social events into user-facing notifications.
package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"chatsync/internal/channel"
	"chatsync/internal/logging"
	"chatsync/internal/model"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

var log = logging.Logger("notify")

const MessageAccountDeleted = "Ваш аккаунт был удален"

type Sink interface {
	Notify(n model.Notification)
}

type SinkFunc func(n model.Notification)

func (f SinkFunc) Notify(n model.Notification) { f(n) }

// Recorder keeps recent notifications, usually the state store.
type Recorder interface {
	AddNotification(n model.Notification)
}

// Sounder plays the achievement cue.
type Sounder interface {
	Play() error
}

// BellSounder rings the terminal bell.
type BellSounder struct {
	W io.Writer
}

func (b BellSounder) Play() error {
	_, err := io.WriteString(b.W, "\a")
	return err
}

type WriterSink struct {
	mu sync.Mutex
	W  io.Writer
}

func (s *WriterSink) Notify(n model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.W, "[%s] %s\n", n.Severity, n.Message)
}

type Options struct {
	Sink     Sink
	Recorder Recorder
	Sounder  Sounder
	// RefreshProfile re-fetches the own profile after an achievement.
	RefreshProfile func()
	Now            func() time.Time
}

type Fanout struct {
	opts Options
}

func New(opts Options) *Fanout {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Fanout{opts: opts}
}

type rule struct {
	path     string
	format   string
	severity model.Severity
}

var rules = map[string]rule{
	channel.EventFriendRequest:         {"fromUser.name", "%s хочет добавить вас в друзья", model.SeverityInfo},
	channel.EventFriendRequestAccepted: {"acceptedBy.name", "%s принял ваш запрос в друзья!", model.SeveritySuccess},
	channel.EventFriendRequestRejected: {"rejectedBy.name", "%s отклонил ваш запрос в друзья", model.SeverityInfo},
	channel.EventFriendAdded:           {"friend.name", "%s добавил вас в друзья!", model.SeveritySuccess},
	channel.EventFriendRemoved:         {"friend.name", "%s удалил вас из друзей", model.SeverityInfo},
}

// Handle emits the notification for event, if it has one. It reports
// whether a notification went out.
func (f *Fanout) Handle(event string, payload json.RawMessage) bool {
	if event == channel.EventAchievementUnlocked {
		return f.achievement(payload)
	}
	r, ok := rules[event]
	if !ok {
		return false
	}
	name := gjson.GetBytes(payload, r.path)
	if !name.Exists() {
		log.Warnw("notification payload missing name", "event", event, "path", r.path)
		return false
	}
	f.Notify(fmt.Sprintf(r.format, name.String()), r.severity)
	return true
}

func (f *Fanout) achievement(payload json.RawMessage) bool {
	a := gjson.GetBytes(payload, "achievement")
	if !a.Exists() {
		log.Warnw("achievement payload missing achievement")
		return false
	}
	kind := "достижение"
	if a.Get("type").String() == "badge" {
		kind = "нашивку"
	}
	f.Notify(fmt.Sprintf("Поздравляем! Вы получили %s: %s", kind, a.Get("name").String()), model.SeveritySuccess)
	f.playSound()
	if f.opts.RefreshProfile != nil {
		f.opts.RefreshProfile()
	}
	return true
}

// AccountDeleted is the notice shown when the liveness check fails.
func (f *Fanout) AccountDeleted() {
	f.Notify(MessageAccountDeleted, model.SeverityError)
}

func (f *Fanout) Notify(message string, severity model.Severity) model.Notification {
	n := model.Notification{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  severity,
		CreatedAt: f.opts.Now(),
	}
	if f.opts.Recorder != nil {
		f.opts.Recorder.AddNotification(n)
	}
	if f.opts.Sink != nil {
		f.opts.Sink.Notify(n)
	}
	return n
}

func (f *Fanout) playSound() {
	if f.opts.Sounder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Debugw("sound panicked", "panic", r)
		}
	}()
	if err := f.opts.Sounder.Play(); err != nil {
		log.Debugw("sound not supported", "error", err)
	}
}
