// Package watch marks projects dirty as soon as something changes under their
// local directory and wakes the sync loop, so new files do not wait for the
// next interval.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chmdznr/oss-asset-sync/internal/logging"
)

// DefaultDebounce collapses bursts of events into one wake up.
const DefaultDebounce = time.Second

// Marker records that a project has unsynced local changes.
type Marker interface {
	SetNewData(ctx context.Context, projectID string, dirty bool) error
}

// Waker starts a sync iteration early.
type Waker interface {
	Wake()
}

// Watcher follows the directory trees of one or more projects. fsnotify only
// watches single directories, so every sub-folder gets its own watch and new
// folders are added as they appear.
type Watcher struct {
	fsw      *fsnotify.Watcher
	marker   Marker
	waker    Waker
	log      logging.Logger
	debounce time.Duration

	mu      sync.Mutex
	dirs    map[string]string // watched dir -> project id
	pending map[string]bool
	running bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Watcher. It must be started with Start.
func New(marker Marker, waker Waker, log logging.Logger, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if log == nil {
		log = logging.Nop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		fsw:      fsw,
		marker:   marker,
		waker:    waker,
		log:      log,
		debounce: debounce,
		dirs:     make(map[string]string),
		pending:  make(map[string]bool),
		done:     make(chan struct{}),
	}, nil
}

// Watch adds root and all of its sub-folders for projectID. Calling it again
// for a watched root is a no-op.
func (w *Watcher) Watch(projectID, root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	_, known := w.dirs[root]
	w.mu.Unlock()
	if known {
		return nil
	}
	return w.addTree(projectID, root)
}

func (w *Watcher) addTree(projectID, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		w.mu.Lock()
		w.dirs[p] = projectID
		w.mu.Unlock()
		return nil
	})
}

// Start begins processing events until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.wg.Add(1)
	go w.processEvents(ctx)
	return nil
}

// Stop closes the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.done)
	}
	err := w.fsw.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn(ctx, "file watcher error", "error", err)
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// handle records the project an event belongs to.
func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	w.mu.Lock()
	projectID, ok := w.dirs[filepath.Dir(event.Name)]
	if ok {
		w.pending[projectID] = true
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	if event.Has(fsnotify.Create) {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			if err := w.addTree(projectID, event.Name); err != nil {
				w.log.Warn(context.Background(), "could not watch new folder", "path", event.Name, "error", err)
			}
		}
	}
}

// flush marks every project touched since the last tick and wakes the loop.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	for _, id := range ids {
		if err := w.marker.SetNewData(ctx, id, true); err != nil {
			w.log.Warn(ctx, "could not mark project dirty", "project", id, "error", err)
		}
	}
	w.log.Debug(ctx, "local changes detected", "projects", len(ids))
	w.waker.Wake()
}
