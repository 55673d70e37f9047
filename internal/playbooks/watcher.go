package playbooks

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reloads a Registry when playbook files in a directory change.
type Watcher struct {
	watcher  *fsnotify.Watcher
	registry *Registry
	dir      string
	debounce time.Duration
	onReload func(count int, err error)

	wg        sync.WaitGroup
	done      chan struct{}
	pendingMu sync.Mutex
	pending   *time.Timer
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithDebounce coalesces bursts of events within d into one reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithReloadHook is called after every reload attempt.
func WithReloadHook(fn func(count int, err error)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

func NewWatcher(registry *Registry, dir string, opts ...WatcherOption) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:  fsWatcher,
		registry: registry,
		dir:      dir,
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.processLoop(ctx)
	}()
}

func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()

	w.pendingMu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pendingMu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Playbook watcher error")
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if !IsPlaybookFile(filepath.Base(event.Name)) {
		return
	}

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	count, err := w.registry.LoadDir(w.dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", w.dir).Msg("Playbook reload failed, keeping previous set")
	} else {
		log.Info().Int("count", count).Str("dir", w.dir).Msg("Reloaded playbooks")
	}
	if w.onReload != nil {
		w.onReload(count, err)
	}
}
