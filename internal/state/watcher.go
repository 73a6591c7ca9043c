package state

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the settings directory so settings edited by external
// tools surface as setting.changed notifications without a daemon restart.
type Watcher struct {
	fsw      *fsnotify.Watcher
	onChange func(key string)
	done     chan struct{}
}

// NewWatcher starts watching the store's settings directory. onChange runs
// on the watcher goroutine with the setting key (filename without .json).
func NewWatcher(store *Store, onChange func(key string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(store.SettingsDir()); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{fsw: fsw, onChange: onChange, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			// Temp files from atomic writes are dot-prefixed; the rename
			// into place arrives as a Create on the final name.
			if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
				continue
			}
			key := strings.TrimSuffix(name, ".json")
			slog.Debug("[state] setting changed on disk", "key", key)
			if w.onChange != nil {
				w.onChange(key)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("[state] settings watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
