package index

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"driftserver/vpath"
)

// rescanDelay is the trailing debounce window that collapses a burst of
// filesystem events into a single full rescan.
const rescanDelay = 100 * time.Millisecond

// Watcher feeds out-of-band filesystem changes back into the store. It runs
// in one of two modes: kernel events through fsnotify, or plain polling when
// it was created with a polling interval (the same interval covers
// regular and binary files). Events arriving inside the suppression window
// are discarded, not queued; the mutation engine has already patched the
// index for its own writes.
type Watcher struct {
	store    *Store
	interval time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	linked map[string]bool // resolved symlink targets already being watched
	fsw    *fsnotify.Watcher
	ticker *time.Ticker
	done   chan struct{}
}

// NewWatcher creates a watcher for s. interval > 0 selects polling mode.
func NewWatcher(s *Store, interval time.Duration) *Watcher {
	return &Watcher{
		store:    s,
		interval: interval,
		linked:   make(map[string]bool),
		done:     make(chan struct{}),
	}
}

// Start begins watching. It returns immediately; all event processing runs
// in background goroutines. Stop terminates them.
func (w *Watcher) Start() error {
	if w.interval > 0 {
		w.ticker = time.NewTicker(w.interval)
		go w.pollLoop()
		log.Printf("watcher: polling every %s", w.interval)
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	if resolved, rerr := filepath.EvalSymlinks(w.store.Root()); rerr == nil {
		w.markLinked(resolved)
	}
	if err := w.watchRecursive(w.store.Root()); err != nil {
		log.Printf("watcher: could not watch %s: %v", w.store.Root(), err)
	}
	go w.eventLoop()
	return nil
}

// Stop closes the watcher and terminates its goroutines.
func (w *Watcher) Stop() {
	close(w.done)
	if w.fsw != nil {
		w.fsw.Close()
	}
	if w.ticker != nil {
		w.ticker.Stop()
	}
}

// pollLoop triggers a rescan on every tick unless the suppression window is
// active.
func (w *Watcher) pollLoop() {
	for {
		select {
		case <-w.done:
			return
		case <-w.ticker.C:
			if w.store.Suppressed() {
				continue
			}
			w.scheduleRescan()
		}
	}
}

// eventLoop drains fsnotify events and errors.
func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: %v", err)
		}
	}
}

// handleEvent processes a single fsnotify event. Newly created directories
// are added to the watch set regardless of suppression so later changes
// inside them are still caught; the rescan itself is gated.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			if err := w.watchRecursive(event.Name); err != nil {
				log.Printf("watcher: could not watch new dir %s: %v", event.Name, err)
			}
		}
	}
	if w.store.Suppressed() {
		return
	}
	w.scheduleRescan()
}

// scheduleRescan arms (or re-arms) the trailing debounce timer.
func (w *Watcher) scheduleRescan() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		w.timer = time.AfterFunc(rescanDelay, w.store.Rescan)
		return
	}
	w.timer.Reset(rescanDelay)
}

// watchRecursive adds a watch for dir and every subdirectory beneath it,
// skipping ignored paths and following symlinked directories the same way
// the scanner does. If the kernel inotify watch limit is reached it logs a
// single actionable message and stops; polling mode is the fallback for
// trees that large.
func (w *Watcher) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Printf("watcher: skipping %s: %v", path, err)
			return nil
		}
		virtual := vpath.RemoveFilesPath(w.store.Root(), path)
		if d.Type()&os.ModeSymlink != 0 {
			// WalkDir does not descend into symlinked directories; resolve
			// the target and watch it explicitly, as the scanner indexes it.
			if virtual != "/" && w.store.ig.Ignored(virtual) {
				return nil
			}
			resolved, rerr := filepath.EvalSymlinks(path)
			if rerr != nil {
				return nil
			}
			if fi, serr := os.Stat(resolved); serr == nil && fi.IsDir() && w.markLinked(resolved) {
				if werr := w.watchRecursive(resolved); werr != nil {
					log.Printf("watcher: could not watch link target %s: %v", resolved, werr)
				}
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if virtual != "/" && w.store.ig.Ignored(virtual) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			if errors.Is(err, syscall.ENOSPC) {
				log.Printf(
					"watcher: inotify watch limit reached (stopped at %s).\n"+
						"  Changes beyond this point will not be detected; either raise the\n"+
						"  kernel limit or run with -polling-interval:\n"+
						"    echo fs.inotify.max_user_watches=524288 | sudo tee -a /etc/sysctl.conf\n"+
						"    sudo sysctl -p",
					path,
				)
				return filepath.SkipAll
			}
			log.Printf("watcher: could not add watch for %s: %v", path, err)
		}
		return nil
	})
}

// markLinked records a resolved symlink target, reporting whether it was
// new. Remembering targets keeps link cycles from recursing forever.
func (w *Watcher) markLinked(resolved string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.linked[resolved] {
		return false
	}
	w.linked[resolved] = true
	return true
}
