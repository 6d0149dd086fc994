// Package presence keeps the set of online peers in step with the server's
// online/offline broadcasts.
package presence

import (
	"chatsync/internal/logging"
)

var log = logging.Logger("presence")

// Set is the part of the state store the tracker writes to.
type Set interface {
	ReplacePresence(ids []string)
	AddPresence(id string) bool
	RemovePresence(id string) bool
	IsOnline(id string) bool
}

type Tracker struct {
	set Set
}

func New(set Set) *Tracker {
	return &Tracker{set: set}
}

// Replace installs the server's full list, dropping whatever was known.
func (t *Tracker) Replace(ids []string) {
	t.set.ReplacePresence(ids)
	log.Debugw("presence replaced", "count", len(ids))
}

func (t *Tracker) Online(id string) {
	if t.set.AddPresence(id) {
		log.Debugw("user online", "user", id)
	}
}

func (t *Tracker) Offline(id string) {
	if t.set.RemovePresence(id) {
		log.Debugw("user offline", "user", id)
	}
}

func (t *Tracker) IsOnline(id string) bool {
	return t.set.IsOnline(id)
}

func (t *Tracker) Clear() {
	t.set.ReplacePresence(nil)
}
