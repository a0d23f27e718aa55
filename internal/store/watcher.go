// File: internal/store/watcher.go
// Hot reload of on-disk script files. Editors typically emit a burst of
// write events per save, so reloads are debounced per file path before the
// script is re-parsed and handed to the apply callback.
package store

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/riftlab/automaton/api/schemas"
)

const reloadDebounce = 200 * time.Millisecond

// ApplyFunc receives a freshly parsed script. Returning an error keeps the
// previously loaded version active; the watcher only logs the rejection.
type ApplyFunc func(*schemas.Script) error

// Watcher reloads script files from a directory as they change.
type Watcher struct {
	dir    string
	apply  ApplyFunc
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher over dir. Run must be called to start it.
func NewWatcher(dir string, apply ApplyFunc, logger *zap.Logger) *Watcher {
	return &Watcher{
		dir:     dir,
		apply:   apply,
		logger:  logger.With(zap.String("component", "script_watcher"), zap.String("dir", dir)),
		pending: make(map[string]*time.Timer),
	}
}

// Run watches the directory until the context is cancelled. A parse or apply
// failure never stops the watcher; the file's previous version stays active.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}
	w.logger.Info("Watching script directory")

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if !scriptFileExts[filepath.Ext(event.Name)] {
				continue
			}
			w.schedule(event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watch error", zap.Error(err))
		}
	}
}

// schedule arms (or re-arms) the debounce timer for one file.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(reloadDebounce)
		return
	}
	w.pending[path] = time.AfterFunc(reloadDebounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.reload(path)
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) reload(path string) {
	script, err := LoadScriptFile(path)
	if err != nil {
		w.logger.Warn("Script reload rejected, keeping previous version",
			zap.String("file", path), zap.Error(err))
		return
	}
	if err := w.apply(script); err != nil {
		w.logger.Warn("Script apply rejected, keeping previous version",
			zap.String("file", path), zap.String("script", script.Name), zap.Error(err))
		return
	}
	w.logger.Info("Script reloaded", zap.String("file", path), zap.String("script", script.Name))
}
