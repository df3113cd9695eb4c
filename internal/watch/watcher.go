// SPDX-License-Identifier: MPL-2.0

// Package watch reports changes to a small set of files, such as the
// configuration file of a long-running poller.
//
// fsnotify cannot follow a file that editors replace by renaming a temp file
// over it, so the parent directories are watched and events are filtered by
// name. Events within the debounce window are coalesced so the callback fires
// once with the full set of changed paths.
package watch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is the delay before firing OnChange after the last event.
// Editors often write then rename, which produces several events per save.
const defaultDebounce = 500 * time.Millisecond

// ErrNoPaths is returned by New when Config.Paths is empty.
var ErrNoPaths = errors.New("watch: no paths to watch")

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Paths are the files to report changes for. They need not exist
		// yet, but their directories must.
		Paths []string

		// Debounce is the quiet period after the last event before the callback
		// fires. Zero or negative values fall back to defaultDebounce.
		Debounce time.Duration

		// OnChange is called after the debounce window closes with the
		// deduplicated list of changed paths. A nil callback is a no-op.
		OnChange func(ctx context.Context, changed []string) error

		// Logger receives callback and fsnotify errors. Defaults to stderr.
		Logger *log.Logger
	}

	// Watcher monitors files and fires a debounced callback when they change.
	// Run must be called exactly once; calling it a second time returns an error.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		files    map[string]struct{}
		logger   *log.Logger
		debounce time.Duration
		started  atomic.Bool
	}
)

// New creates a Watcher from cfg and registers the parent directory of every
// path with fsnotify.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Paths) == 0 {
		return nil, ErrNoPaths
	}

	files := make(map[string]struct{}, len(cfg.Paths))
	dirs := make(map[string]struct{}, len(cfg.Paths))
	for _, p := range cfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("watch: resolve %q: %w", p, err)
		}
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	for _, dir := range slices.Sorted(maps.Keys(dirs)) {
		if addErr := fsw.Add(dir); addErr != nil {
			fsw.Close() //nolint:errcheck // best-effort cleanup
			return nil, fmt.Errorf("watch: add directory %q: %w", dir, addErr)
		}
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "watch"})
	}

	return &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		files:    files,
		logger:   logger,
		debounce: debounce,
	}, nil
}

// Run blocks until ctx is canceled, processing filesystem events and
// dispatching debounced callbacks. It returns nil on clean context
// cancellation and propagates fatal watcher errors.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	// fire may be scheduled after ctx is canceled, so it checks ctx first.
	// A callback still running when the next window closes is not re-entered;
	// the pending set is kept and the timer rearmed.
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()

		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				w.logger.Warn("change callback failed", "error", err)
			}
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if closeErr := w.fsw.Close(); closeErr != nil {
			w.logger.Warn("closing fsnotify watcher", "error", closeErr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}
			if !w.watched(evt.Name) || (evt.Has(fsnotify.Chmod) && !evt.Has(fsnotify.Write)) {
				continue
			}

			mu.Lock()
			pending[filepath.Clean(evt.Name)] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			// Resource exhaustion means the watcher cannot recover; see watcher_fatal_*.go.
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

// watched reports whether name is one of the configured files.
func (w *Watcher) watched(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	_, ok := w.files[abs]
	return ok
}
