package localstate

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports when the persisted credential disappears because some
// other process cleared or removed the state file.
type Watcher struct {
	store   Store
	watcher *fsnotify.Watcher
	onGone  func()

	mu    sync.Mutex
	token string

	closed chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Watch starts watching the directory holding s. onGone runs on the
// watcher's goroutine each time a stored token goes away.
func Watch(s Store, onGone func()) (*Watcher, error) {
	st, err := s.Load()
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// watch the directory: the file itself is replaced on every save
	if err := fw.Add(filepath.Dir(s.Path())); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(s.Path()), err)
	}
	w := &Watcher{
		store:   s,
		watcher: fw,
		onGone:  onGone,
		token:   st.Token,
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Refresh re-reads the stored token, for callers that write it themselves.
func (w *Watcher) Refresh() {
	st, err := w.store.Load()
	if err != nil {
		return
	}
	w.mu.Lock()
	w.token = st.Token
	w.mu.Unlock()
}

func (w *Watcher) loop() {
	defer close(w.done)
	base := filepath.Base(w.store.Path())
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if !strings.HasPrefix(name, base) || strings.Contains(name, ".tmp-") {
				continue
			}
			w.check()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnw("state watcher error", "error", err)
		}
	}
}

func (w *Watcher) check() {
	st, err := w.store.Load()
	if err != nil {
		log.Debugw("reloading state failed", "error", err)
		return
	}
	w.mu.Lock()
	gone := w.token != "" && st.Token == ""
	w.token = st.Token
	w.mu.Unlock()

	if gone {
		log.Infow("stored credential cleared externally", "path", w.store.Path())
		if w.onGone != nil {
			w.onGone()
		}
	}
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closed)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}
