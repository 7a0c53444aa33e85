// ABOUTME: Live reload of the thresholds file via fsnotify
// ABOUTME: Pushes reloaded thresholds into the engine; bad files keep the old values

package anomaly

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the thresholds file into an Engine whenever it changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchThresholds starts watching path and pushes successful reloads into
// engine. The parent directory is watched so editors that replace the file
// (rename-over) still trigger a reload.
func WatchThresholds(path string, engine *Engine, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "thresholds-watcher")

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	w := &Watcher{
		watcher: fw,
		done:    make(chan struct{}),
	}

	target := filepath.Clean(path)
	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				thresholds, err := LoadThresholds(path)
				if err != nil {
					logger.Warn("thresholds reload failed, keeping previous values",
						"path", path, "error", err)
					continue
				}
				engine.SetThresholds(thresholds)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logger.Warn("file watcher error", "error", err)
			}
		}
	}()

	logger.Info("watching thresholds file", "path", path)
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
