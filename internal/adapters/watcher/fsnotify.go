// Package watcher provides corpus directory monitoring adapters.
// Clean Architecture: Adapter implementing ports.CorpusWatcher.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSNotifyWatcher implements ports.CorpusWatcher using fsnotify. Change
// events are debounced so a burst of writes (log rotation, bulk copy)
// produces a single rebuild signal.
type FSNotifyWatcher struct {
	watcher    *fsnotify.Watcher
	extensions []string
	debounce   time.Duration
	logger     *slog.Logger
}

// NewFSNotifyWatcher creates a corpus watcher for the given file extensions.
func NewFSNotifyWatcher(extensions []string, debounce time.Duration, logger *slog.Logger) (*FSNotifyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if len(extensions) == 0 {
		extensions = []string{".log", ".txt", ".md"}
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FSNotifyWatcher{
		watcher:    w,
		extensions: extensions,
		debounce:   debounce,
		logger:     logger,
	}, nil
}

// Watch starts monitoring the directory and emits one signal per burst of
// relevant changes.
func (w *FSNotifyWatcher) Watch(ctx context.Context, dir string) (<-chan struct{}, error) {
	if err := w.watcher.Add(dir); err != nil {
		return nil, err
	}

	signals := make(chan struct{}, 1)

	go func() {
		defer close(signals)

		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !w.isWatchedExtension(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				w.logger.Debug("corpus change detected", "path", event.Name, "op", event.Op.String())

				// Restart the debounce window on every relevant event.
				if timer == nil {
					timer = time.NewTimer(w.debounce)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(w.debounce)
				}

			case <-timerC:
				timer = nil
				timerC = nil
				select {
				case signals <- struct{}{}:
				default: // a signal is already pending
				}

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watcher error", "error", err)
			}
		}
	}()

	return signals, nil
}

// Close stops the watcher.
func (w *FSNotifyWatcher) Close() error {
	return w.watcher.Close()
}

// isWatchedExtension checks if the file has a watched extension.
func (w *FSNotifyWatcher) isWatchedExtension(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range w.extensions {
		if ext == e {
			return true
		}
	}
	return false
}
