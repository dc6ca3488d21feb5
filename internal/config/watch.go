package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors emit on save
// (WRITE, CHMOD, atomic RENAME) into a single reload.
const reloadDebounce = 500 * time.Millisecond

// Watcher reloads a config file when it changes on disk and hands the
// parsed result to a callback. The serve command uses it to hot-apply
// query and health tunables without a restart.
//
// The parent directory is watched rather than the file itself because
// editors and config management tools replace files via atomic rename,
// which would orphan a watch on the old inode.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   *slog.Logger

	fsw  *fsnotify.Watcher
	done chan struct{}

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// WatchFile starts watching path for changes. onChange is invoked with
// the freshly loaded config after each successful reload; reloads that
// fail to parse or validate are logged and the previous config stays
// in effect.
func WatchFile(path string, logger *slog.Logger, onChange func(*Config)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		path:     abs,
		onChange: onChange,
		logger:   logger,
		fsw:      fsw,
		done:     make(chan struct{}),
	}

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
			if !w.relevant(event) {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

// relevant filters events down to mutations of the watched file.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// scheduleReload resets the debounce timer.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	cfg, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("config_reload_failed",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("config_reloaded", slog.String("path", w.path))
	w.onChange(cfg)
}

// Stop stops the watcher. Safe to call multiple times; pending
// debounced reloads are cancelled.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.fsw.Close()
	<-w.done
}
