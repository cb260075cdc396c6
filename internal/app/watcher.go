package app

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/medtec-labs/caseship/internal/ports"
)

// watchDebounce coalesces bursts of file events into one flush signal.
const watchDebounce = 200 * time.Millisecond

// QueueWatcher monitors the queue file via fsnotify and signals the agent
// when the host application enqueues an operation, so a reconnect is
// exploited without waiting for the next flush interval.
type QueueWatcher struct {
	path    string
	logger  ports.Logger
	signals chan struct{}

	mu       sync.Mutex
	debounce *time.Timer
}

// NewQueueWatcher creates a watcher for the given queue file path.
func NewQueueWatcher(path string, logger ports.Logger) *QueueWatcher {
	return &QueueWatcher{
		path:    path,
		logger:  logger,
		signals: make(chan struct{}, 1),
	}
}

// Signals returns the channel the agent selects on.
func (w *QueueWatcher) Signals() <-chan struct{} {
	return w.signals
}

// Run watches the queue file's directory until the context is done. The
// directory is watched rather than the file because atomic queue writes
// replace the file by rename.
func (w *QueueWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	base := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounceSignal()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("queue watcher error", ports.Err(err))
		}
	}
}

func (w *QueueWatcher) debounceSignal() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(watchDebounce, func() {
		select {
		case w.signals <- struct{}{}:
		default:
		}
	})
}
