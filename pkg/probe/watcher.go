package probe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the quiet period StageWatcher waits for before
// reporting a burst of filesystem events as one change.
const DefaultDebounce = 500 * time.Millisecond

// StageWatcher reports changes below a set of roots, typically the stage
// and prime directories. fsnotify is not recursive, so every directory
// below the roots is registered, including directories created later.
type StageWatcher struct {
	watcher  *fsnotify.Watcher
	roots    []string
	debounce time.Duration
	logger   zerolog.Logger
	mu       sync.Mutex
	timer    *time.Timer
}

// NewStageWatcher creates a watcher for roots. For a root that does not
// exist yet only its nearest existing ancestor is watched, so its creation
// is noticed without following unrelated directories.
func NewStageWatcher(logger zerolog.Logger, debounce time.Duration, roots ...string) (*StageWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &StageWatcher{
		watcher:  watcher,
		roots:    roots,
		debounce: debounce,
		logger:   logger.With().Str("component", "stage-watcher").Logger(),
	}

	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			_ = watcher.Close()
			return nil, err
		}
	}

	return w, nil
}

// addTree registers root and every directory below it, or the nearest
// existing ancestor of root when it is missing.
func (w *StageWatcher) addTree(root string) error {
	ok, err := isDir(root)
	if err != nil {
		return err
	}
	if !ok {
		for dir := filepath.Dir(root); ; dir = filepath.Dir(dir) {
			ok, err := isDir(dir)
			if err != nil {
				return err
			}
			if ok {
				return w.watcher.Add(dir)
			}
			if dir == filepath.Dir(dir) {
				return nil
			}
		}
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
		}
		return nil
	})
}

// Run blocks until ctx is done, calling onChange once per debounced burst
// of events. onChange is never called concurrently with itself.
func (w *StageWatcher) Run(ctx context.Context, onChange func()) error {
	defer w.stopTimer()

	var callMu sync.Mutex
	fire := func() {
		callMu.Lock()
		defer callMu.Unlock()
		if ctx.Err() == nil {
			onChange()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.watchCreated(event.Name)
				}
			}
			if !w.covers(event.Name) {
				continue
			}

			w.logger.Debug().
				Str("path", event.Name).
				Str("op", event.Op.String()).
				Msg("Stage changed")

			w.schedule(fire)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// watchCreated follows a new directory below a root, or moves the watch of
// the roots it leads to one level closer.
func (w *StageWatcher) watchCreated(dir string) {
	targets := []string{dir}
	if !w.covers(dir) {
		targets = targets[:0]
		for _, root := range w.roots {
			if within(dir, root) {
				targets = append(targets, root)
			}
		}
	}
	for _, target := range targets {
		if err := w.addTree(target); err != nil {
			w.logger.Warn().Err(err).Str("path", target).Msg("Failed to watch new directory")
		}
	}
}

// covers reports whether path is a root or lies below one.
func (w *StageWatcher) covers(path string) bool {
	for _, root := range w.roots {
		if within(root, path) {
			return true
		}
	}
	return false
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *StageWatcher) schedule(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, fn)
}

func (w *StageWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Close stops watching.
func (w *StageWatcher) Close() error {
	w.stopTimer()
	return w.watcher.Close()
}
