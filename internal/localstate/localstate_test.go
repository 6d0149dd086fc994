package localstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func roundTrip(t *testing.T, s Store) {
	t.Helper()
	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if st != (State{}) {
		t.Fatalf("expected zero state, got %+v", st)
	}

	want := State{Token: "tok", CurrentPath: "/chat/c1", ActiveTab: "friends", ProfileEditing: true}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load()
	if err != nil || got != want {
		t.Fatalf("Load: got %+v err %v", got, err)
	}

	if err := s.ClearToken(); err != nil {
		t.Fatalf("ClearToken: %v", err)
	}
	got, _ = s.Load()
	want.Token = ""
	if got != want {
		t.Fatalf("ClearToken should keep the rest, got %+v", got)
	}

	if err := Update(s, func(st *State) { st.ProfileEditing = false; st.ActiveTab = "" }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = s.Load()
	if got.ProfileEditing || got.ActiveTab != "" || got.CurrentPath != "/chat/c1" {
		t.Fatalf("unexpected state after Update %+v", got)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Fatalf("expected a FileStore for .json, got %T", s)
	}
	roundTrip(t, s)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
	matches, _ := filepath.Glob(path + ".tmp-*")
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, _ := OpenFile(path)
	if _, err := s.Load(); err == nil {
		t.Fatalf("expected a decode error")
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Fatalf("expected a SQLiteStore for .db, got %T", s)
	}
	roundTrip(t, s)
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := s.Save(State{Token: "tok", ActiveTab: "chats"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Close()

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Load()
	if err != nil || got.Token != "tok" || got.ActiveTab != "chats" {
		t.Fatalf("unexpected state after reopen %+v %v", got, err)
	}
}

func TestWatcher_ReportsExternalClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, _ := OpenFile(path)
	if err := s.Save(State{Token: "tok", ActiveTab: "chats"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	gone := make(chan struct{}, 4)
	w, err := Watch(s, func() { gone <- struct{}{} })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	// an unrelated change does not fire
	if err := s.Save(State{Token: "tok", ActiveTab: "friends"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	select {
	case <-gone:
		t.Fatalf("token still present, should not fire")
	case <-time.After(100 * time.Millisecond):
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	select {
	case <-gone:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected onGone after the file was removed")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = w.Close()
}
