package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ModuleName is the name the watcher registers under as a supervised module.
const ModuleName = "file_watcher"

const relevantOps = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

// ChangeHandler receives the sorted set of watched files that changed within
// one debounce window.
type ChangeHandler func(paths []string)

// Options configures a Watcher.
type Options struct {
	// Debounce is how long to wait for further events before reporting.
	// Default: 500ms
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher reports changes to a fixed set of files.
type Watcher struct {
	paths    map[string]bool
	dirs     []string
	onChange ChangeHandler
	debounce time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates a Watcher for paths. Call Start to begin watching.
func New(paths []string, onChange ChangeHandler, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if onChange == nil {
		onChange = func([]string) {}
	}

	w := &Watcher{
		paths:    make(map[string]bool, len(paths)),
		onChange: onChange,
		debounce: opts.Debounce,
		log:      opts.Logger,
	}
	seenDir := make(map[string]bool)
	for _, p := range paths {
		p = filepath.Clean(p)
		w.paths[p] = true
		dir := filepath.Dir(p)
		if !seenDir[dir] {
			seenDir[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}
	sort.Strings(w.dirs)
	return w
}

// Start begins watching. Directories that cannot be watched are logged and
// skipped. Calling Start on a running watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	watched := 0
	for _, dir := range w.dirs {
		if err := fsw.Add(dir); err != nil {
			w.log.Warn("cannot watch directory", "dir", dir, "error", err)
			continue
		}
		watched++
	}

	w.fsw = fsw
	w.stopCh = make(chan struct{})
	w.running = true

	w.wg.Add(1)
	go w.loop(fsw, w.stopCh)

	w.log.Debug("file watcher started", "files", len(w.paths), "dirs", watched)
	return nil
}

// Stop halts the watcher. Pending changes inside the debounce window are
// dropped. Calling Stop on a stopped watcher is a no-op.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	close(w.stopCh)
	err := w.fsw.Close()
	w.running = false
	w.mu.Unlock()

	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close file watcher: %w", err)
	}
	return nil
}

// Running reports whether the watcher is started.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Name implements recovery.Module.
func (w *Watcher) Name() string { return ModuleName }

// Critical implements recovery.Module. The watcher is restarted along with
// other non-critical modules.
func (w *Watcher) Critical() bool { return false }

// Restart implements recovery.Module by stopping and starting the watcher.
func (w *Watcher) Restart(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.Stop(); err != nil {
		w.log.Warn("file watcher stop failed during restart", "error", err)
	}
	return w.Start()
}

func (w *Watcher) loop(fsw *fsnotify.Watcher, stop <-chan struct{}) {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	pending := make(map[string]bool)

	for {
		select {
		case <-stop:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			name := filepath.Clean(ev.Name)
			if !w.paths[name] || ev.Op&relevantOps == 0 {
				continue
			}
			pending[name] = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher error", "error", err)

		case <-fire:
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			pending = make(map[string]bool)
			timer, fire = nil, nil

			w.log.Info("critical files changed", "files", changed)
			w.onChange(changed)
		}
	}
}
