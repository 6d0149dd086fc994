package localstate

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"
)

const (
	keyToken          = "token"
	keyCurrentPath    = "currentPath"
	keyActiveTab      = "activeTab"
	keyProfileEditing = "profileEditing"
)

// SQLiteStore keeps the state as rows of a key/value table.
type SQLiteStore struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("localstate: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("localstate: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("localstate: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("localstate: %s: %w", pragma, err)
		}
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("localstate: create table: %w", err)
	}
	return &SQLiteStore{path: path, db: db}, nil
}

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT key, value FROM state`)
	if err != nil {
		return State{}, fmt.Errorf("localstate: query: %w", err)
	}
	defer rows.Close()

	var st State
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return State{}, fmt.Errorf("localstate: scan: %w", err)
		}
		switch key {
		case keyToken:
			st.Token = value
		case keyCurrentPath:
			st.CurrentPath = value
		case keyActiveTab:
			st.ActiveTab = value
		case keyProfileEditing:
			st.ProfileEditing, _ = strconv.ParseBool(value)
		}
	}
	return st, rows.Err()
}

func (s *SQLiteStore) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("localstate: begin: %w", err)
	}
	defer tx.Rollback()

	values := map[string]string{
		keyToken:          st.Token,
		keyCurrentPath:    st.CurrentPath,
		keyActiveTab:      st.ActiveTab,
		keyProfileEditing: strconv.FormatBool(st.ProfileEditing),
	}
	for key, value := range values {
		if value == "" || (key == keyProfileEditing && !st.ProfileEditing) {
			if _, err := tx.Exec(`DELETE FROM state WHERE key = ?`, key); err != nil {
				return fmt.Errorf("localstate: delete %s: %w", key, err)
			}
			continue
		}
		_, err := tx.Exec(`INSERT INTO state (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		if err != nil {
			return fmt.Errorf("localstate: upsert %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("localstate: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM state WHERE key = ?`, keyToken); err != nil {
		return fmt.Errorf("localstate: clear token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
