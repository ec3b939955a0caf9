// Package index maintains the in-memory mirror of the served directory tree
// and keeps it coherent under client mutations, watcher-driven rescans, and
// concurrent read queries.
package index

import (
	"errors"
	pathpkg "path"
	"sort"
	"strings"
	"sync"
	"time"

	"driftserver/ignore"
)

// Errors raised by the mutation engine before any disk call.
var (
	ErrInvalid  = errors.New("invalid path or name")
	ErrReadOnly = errors.New("server is read-only")
)

// FileEntry is one regular file: size in bytes, mtime in milliseconds.
type FileEntry struct {
	Size  int64
	MTime int64
}

// DirEntry is one directory. Size aggregates the sizes of all files in the
// directory and, recursively, its subdirectories.
type DirEntry struct {
	Files map[string]FileEntry
	Size  int64
	MTime int64
}

// Options configures a Store.
type Options struct {
	// Root is the absolute real directory served as virtual "/".
	Root string
	// Ignore skips matching paths during scans; nil ignores nothing.
	Ignore *ignore.Matcher
	// ReadOnly rejects every mutation before it touches disk.
	ReadOnly bool
}

// Store is the process-wide index: the directory map, the pending-update
// set, and the watcher suppression deadline. One Store exists per process
// and is shared by the mutation engine, the watcher, and all queries.
type Store struct {
	root     string
	ig       *ignore.Matcher
	readOnly bool

	mu   sync.RWMutex
	dirs map[string]*DirEntry

	busMu   sync.Mutex
	pending map[string]struct{}
	emitAll bool
	drain   *time.Timer
	subs    []Subscriber

	supMu         sync.Mutex
	suppressUntil time.Time
}

// NewStore creates an empty Store. Call Init to populate it from disk.
func NewStore(opts Options) *Store {
	return &Store{
		root:     opts.Root,
		ig:       opts.Ignore,
		readOnly: opts.ReadOnly,
		dirs:     make(map[string]*DirEntry),
		pending:  make(map[string]struct{}),
	}
}

// Root returns the configured real root directory.
func (s *Store) Root() string { return s.root }

// Get returns a snapshot of the directory at p. The returned entry shares no
// state with the index; callers may mutate it freely.
func (s *Store) Get(p string) (DirEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dirs[p]
	if !ok {
		return DirEntry{}, false
	}
	snap := DirEntry{Files: make(map[string]FileEntry, len(d.Files)), Size: d.Size, MTime: d.MTime}
	for name, f := range d.Files {
		snap.Files[name] = f
	}
	return snap, true
}

// putDirLocked inserts or replaces the directory at p, creating any missing
// ancestor entries so the index never holds an orphaned path.
func (s *Store) putDirLocked(p string, mtime int64) {
	s.dirs[p] = &DirEntry{Files: make(map[string]FileEntry), MTime: mtime}
	for cur := parentOf(p); ; cur = parentOf(cur) {
		if _, ok := s.dirs[cur]; ok {
			break
		}
		s.dirs[cur] = &DirEntry{Files: make(map[string]FileEntry), MTime: mtime}
		if cur == "/" {
			break
		}
	}
}

// putFileLocked inserts or overwrites a file entry and adjusts the owning
// directory's local size. Ancestor sizes are fixed by recomputeSizesLocked.
func (s *Store) putFileLocked(dir, name string, size, mtime int64) {
	d, ok := s.dirs[dir]
	if !ok {
		s.putDirLocked(dir, mtime)
		d = s.dirs[dir]
	}
	if old, ok := d.Files[name]; ok {
		d.Size -= old.Size
	}
	d.Files[name] = FileEntry{Size: size, MTime: mtime}
	d.Size += size
}

// removeFileLocked deletes a file entry and subtracts its size.
func (s *Store) removeFileLocked(dir, name string) {
	d, ok := s.dirs[dir]
	if !ok {
		return
	}
	if f, ok := d.Files[name]; ok {
		d.Size -= f.Size
		delete(d.Files, name)
	}
}

// removeDirLocked deletes p and every entry beneath it.
func (s *Store) removeDirLocked(p string) {
	delete(s.dirs, p)
	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}
	for k := range s.dirs {
		if strings.HasPrefix(k, prefix) {
			delete(s.dirs, k)
		}
	}
}

// rekeyDirSubtreeLocked relocates the directory at from, and every
// descendant, to the corresponding path under to.
func (s *Store) rekeyDirSubtreeLocked(from, to string) {
	moved := make(map[string]*DirEntry)
	prefix := from + "/"
	for k, d := range s.dirs {
		if k == from {
			moved[to] = d
			delete(s.dirs, k)
		} else if strings.HasPrefix(k, prefix) {
			moved[to+"/"+k[len(prefix):]] = d
			delete(s.dirs, k)
		}
	}
	for k, d := range moved {
		s.dirs[k] = d
	}
}

// recomputeSizesLocked is the authoritative size computation: first every
// directory's size is reset to the sum of its own files, then each size is
// rolled up into the parent, children before parents. Sorting by descending
// path length guarantees the child-first order because a child's clean path
// is always strictly longer than its parent's. The pass is idempotent and
// tolerates arbitrary prior drift.
func (s *Store) recomputeSizesLocked() {
	keys := make([]string, 0, len(s.dirs))
	for k, d := range s.dirs {
		keys = append(keys, k)
		var own int64
		for _, f := range d.Files {
			own += f.Size
		}
		d.Size = own
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		if k == "/" {
			continue
		}
		if parent, ok := s.dirs[parentOf(k)]; ok {
			parent.Size += s.dirs[k].Size
		}
	}
}

// existsLocked reports whether p names a directory or a file in the index.
func (s *Store) existsLocked(p string) bool {
	if _, ok := s.dirs[p]; ok {
		return true
	}
	d, ok := s.dirs[parentOf(p)]
	if !ok {
		return false
	}
	_, ok = d.Files[pathpkg.Base(p)]
	return ok
}

// Exists reports whether p is currently present in the index.
func (s *Store) Exists(p string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.existsLocked(p)
}

// parentOf returns the virtual parent path of p ("/" for top-level entries).
func parentOf(p string) string {
	return pathpkg.Dir(p)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
