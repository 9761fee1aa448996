package watcher

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"brake-to-pause/internal/config"
)

const debounceInterval = 500 * time.Millisecond

// ReloadCallback is called with the freshly loaded preferences.
type ReloadCallback func(cfg config.Config)

// Watcher reloads the preferences file when it changes on disk.
type Watcher struct {
	path     string
	callback ReloadCallback

	mu        sync.Mutex
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
	done      chan struct{}
	debounce  time.Duration
}

// New creates a watcher for the preferences file at path.
func New(path string, callback ReloadCallback) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		callback: callback,
		debounce: debounceInterval,
	}
}

// Start begins watching. The directory is watched rather than the file so
// editors that replace the file on save are still seen.
func (w *Watcher) Start() error {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsW.Add(filepath.Dir(w.path)); err != nil {
		fsW.Close()
		return err
	}

	w.mu.Lock()
	w.fsWatcher = fsW
	w.cancel = make(chan struct{})
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.watchLoop(fsW, w.cancel, w.done)
	return nil
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(fsW *fsnotify.Watcher, cancel, done chan struct{}) {
	defer close(done)
	var timer *time.Timer

	for {
		select {
		case <-cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fsW.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-fsW.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", w.path).Msg("watcher: fsnotify error")
		}
	}
}

// reload reads the file again. A file that fails to load keeps the
// previous preferences in effect.
func (w *Watcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("watcher: reload preferences")
		return
	}
	log.Info().Str("path", w.path).Int("thresholdKph", cfg.Motion.SpeedThresholdKph).Msg("watcher: preferences reloaded")
	if w.callback != nil {
		w.callback(cfg)
	}
}

// Shutdown stops watching.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	fsW, cancel, done := w.fsWatcher, w.cancel, w.done
	w.fsWatcher, w.cancel, w.done = nil, nil, nil
	w.mu.Unlock()

	if fsW == nil {
		return
	}
	close(cancel)
	fsW.Close()
	<-done
}
