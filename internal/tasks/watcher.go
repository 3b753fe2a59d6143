package tasks

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watched is the part of the store the watcher drives
type Watched interface {
	Refresh(queue Queue)
}

// watcher re-reads queue files when they change on disk. Editors and the
// store's own write-backs both fire events; the store's diff check makes
// redundant refreshes harmless.
type watcher struct {
	store   Watched
	fsw     *fsnotify.Watcher
	byPath  map[string]Queue
	mu      sync.Mutex
	pending map[Queue]*time.Timer
}

// Watch starts a filesystem watcher over both queue files and blocks until
// ctx is cancelled. Watching the parent directories survives editors that
// replace files by rename.
func Watch(ctx context.Context, store Watched, userPath, internalPath string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	w := &watcher{
		store: store,
		fsw:   fsw,
		byPath: map[string]Queue{
			filepath.Clean(userPath):     QueueUser,
			filepath.Clean(internalPath): QueueInternal,
		},
		pending: map[Queue]*time.Timer{},
	}

	dirs := map[string]bool{}
	for path := range w.byPath {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			log.Printf("[TASKS] Cannot watch %s: %v", dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			queue, tracked := w.byPath[filepath.Clean(event.Name)]
			if !tracked {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(queue)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("[TASKS] Watcher error: %v", err)
		}
	}
}

// schedule debounces bursts of events for one queue into a single refresh
func (w *watcher) schedule(queue Queue) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[queue]; ok {
		timer.Stop()
	}
	w.pending[queue] = time.AfterFunc(watchDebounce, func() {
		w.mu.Lock()
		delete(w.pending, queue)
		w.mu.Unlock()
		w.store.Refresh(queue)
	})
}
