// Package localstate persists the few values the client keeps between runs:
// the session credential and where the user was in the UI.
package localstate

import (
	"path/filepath"
	"strings"

	"chatsync/internal/logging"
)

var log = logging.Logger("localstate")

type State struct {
	Token          string `json:"token,omitempty"`
	CurrentPath    string `json:"currentPath,omitempty"`
	ActiveTab      string `json:"activeTab,omitempty"`
	ProfileEditing bool   `json:"profileEditing,omitempty"`
}

type Store interface {
	Load() (State, error)
	Save(st State) error
	// ClearToken forgets the credential and keeps the rest.
	ClearToken() error
	Path() string
	Close() error
}

// Open picks the backend from the file extension: .db and .sqlite use
// SQLite, anything else a JSON file.
func Open(path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path)
	default:
		return OpenFile(path)
	}
}

// Update loads the state, applies fn and saves the result.
func Update(s Store, fn func(st *State)) error {
	st, err := s.Load()
	if err != nil {
		return err
	}
	fn(&st)
	return s.Save(st)
}
