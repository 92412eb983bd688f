package prompt

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the library when prompt files change, so prompt edits
// take effect without a restart. Rapid bursts of events collapse into one
// reload via a debounce timer.
type Watcher struct {
	watcher  *fsnotify.Watcher
	library  *Library
	debounce time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	timer    *time.Timer
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher over the library's directory.
func NewWatcher(library *Library, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		watcher:  fsw,
		library:  library,
		debounce: 200 * time.Millisecond,
		logger:   logger.With().Str("component", "prompt-watcher").Logger(),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The library keeps serving its last good prompt if
// the directory later disappears.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.library.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.library.dir, err)
	}

	go w.eventLoop()

	w.logger.Info().Str("dir", w.library.dir).Msg("prompt watcher started")
	return nil
}

// Stop shuts the watcher down. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if err := w.watcher.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("error closing watcher")
		}
	})
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		w.library.Reload()
		w.logger.Info().Msg("prompts reloaded")
	})
}
