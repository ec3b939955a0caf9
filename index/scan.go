package index

import (
	"log"
	"os"
	pathpkg "path"
	"path/filepath"
	"strings"
)

// Init populates the empty index with a one-shot synchronous scan of the
// root. It must be called once before the store is shared.
func Init(s *Store) error {
	if _, err := os.Stat(s.root); err != nil {
		return err
	}
	fresh := s.scanTree()
	s.mu.Lock()
	s.dirs = fresh
	s.recomputeSizesLocked()
	s.mu.Unlock()
	return nil
}

// Rescan walks the root again and replaces the index wholesale: discovered
// directories get fresh entries, files are rewritten under their parents,
// and previously-indexed paths absent from the new walk disappear. Every
// affected top-level directory is marked dirty and a global notification is
// flagged for the next drain.
func (s *Store) Rescan() {
	fresh := s.scanTree()

	s.mu.Lock()
	affected := topLevelDiff(s.dirs, fresh)
	s.dirs = fresh
	s.recomputeSizesLocked()
	s.mu.Unlock()

	s.markAll(affected)
}

// scanTree builds a complete directory map from disk without touching the
// live index. The traversal follows symlinks, so a link to a directory is
// indexed as a directory under the link's own virtual path; filepath.WalkDir
// cannot do that, hence the hand-rolled recursion.
func (s *Store) scanTree() map[string]*DirEntry {
	dirs := make(map[string]*DirEntry)
	s.scanDir(s.root, "/", dirs, make(map[string]bool))
	if _, ok := dirs["/"]; !ok {
		dirs["/"] = &DirEntry{Files: make(map[string]FileEntry)}
	}
	return dirs
}

// scanDir records the directory at real under the virtual path and recurses
// into its children. Traversal errors are logged and the affected entry
// skipped; a single unreadable subdirectory never aborts the scan. The seen
// set holds the resolved targets of the current recursion chain so symlink
// cycles terminate.
func (s *Store) scanDir(real, virtual string, dirs map[string]*DirEntry, seen map[string]bool) {
	if resolved, err := filepath.EvalSymlinks(real); err == nil {
		if seen[resolved] {
			return
		}
		seen[resolved] = true
		defer delete(seen, resolved)
	}

	info, err := os.Stat(real)
	if err != nil {
		log.Printf("scan: skipping %s: %v", real, err)
		return
	}
	dirs[virtual] = &DirEntry{
		Files: make(map[string]FileEntry),
		MTime: info.ModTime().UnixMilli(),
	}

	ents, err := os.ReadDir(real)
	if err != nil {
		log.Printf("scan: skipping contents of %s: %v", real, err)
		return
	}
	for _, e := range ents {
		childVirtual := pathpkg.Join(virtual, e.Name())
		if s.ig.Ignored(childVirtual) {
			continue
		}
		childReal := filepath.Join(real, e.Name())
		fi, ierr := e.Info()
		if ierr != nil {
			log.Printf("scan: skipping %s: %v", childReal, ierr)
			continue
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			// Follow the link: index its target under the link's name.
			ti, terr := os.Stat(childReal)
			if terr != nil {
				log.Printf("scan: skipping %s: %v", childReal, terr)
				continue
			}
			fi = ti
		}
		if fi.IsDir() {
			s.scanDir(childReal, childVirtual, dirs, seen)
			continue
		}
		if !fi.Mode().IsRegular() {
			continue
		}
		dirs[virtual].Files[e.Name()] = FileEntry{
			Size:  fi.Size(),
			MTime: fi.ModTime().UnixMilli(),
		}
	}
}

// topLevelDiff returns the top-level ancestors of every path present in one
// map but not the other, the minimal dirty marks for a swap from old to new.
func topLevelDiff(old, fresh map[string]*DirEntry) []string {
	seen := make(map[string]struct{})
	mark := func(p string) {
		seen[topLevel(p)] = struct{}{}
	}
	for k := range old {
		if _, ok := fresh[k]; !ok {
			mark(k)
		}
	}
	for k, d := range fresh {
		o, ok := old[k]
		if !ok {
			mark(k)
			continue
		}
		if len(o.Files) != len(d.Files) {
			mark(k)
			continue
		}
		for name, f := range d.Files {
			if of, ok := o.Files[name]; !ok || of != f {
				mark(k)
				break
			}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	return out
}

// topLevel returns the first-segment directory of p, or "/" for the root.
func topLevel(p string) string {
	if p == "/" {
		return "/"
	}
	rest := strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return "/" + rest[:i]
	}
	return "/" + rest
}
