package rules

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads alert rules when the config file changes on disk, so
// rules can be tuned without a restart.
type Watcher struct {
	logger *slog.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewWatcher creates a config file watcher.
func NewWatcher(logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{logger: logger.With("component", "rules.Watcher")}
}

// Watch starts an fsnotify watcher on the given config file path. When the
// file is modified, onReload is invoked with the absolute path of the
// changed file. Call Stop to clean up.
func (w *Watcher) Watch(configPath string, onReload func(path string)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		w.stopLocked()
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Watch the directory rather than the file to catch editor
	// rename-and-replace patterns (e.g. vim, nano).
	dir := filepath.Dir(absPath)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	w.watcher = fw
	w.watchDone = make(chan struct{})

	go w.loop(absPath, onReload)

	w.logger.Info("watching config for rule changes", "path", absPath)
	return nil
}

func (w *Watcher) loop(targetPath string, onReload func(string)) {
	defer close(w.watchDone)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			absEvent, _ := filepath.Abs(event.Name)
			if absEvent != targetPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.logger.Info("config file changed, reloading rules", "path", targetPath)
				onReload(targetPath)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

// Stop stops the watcher, if running.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *Watcher) stopLocked() {
	if w.watcher != nil {
		_ = w.watcher.Close()
		if w.watchDone != nil {
			<-w.watchDone
		}
		w.watcher = nil
		w.watchDone = nil
	}
}
