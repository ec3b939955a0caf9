package index

import (
	"fmt"
	"io"
	pathpkg "path"
	"regexp"
	"strconv"
	"strings"

	"driftserver/fsops"
	"driftserver/vpath"
)

// Clipboard paste kinds.
const (
	ClipCut  = "cut"
	ClipCopy = "copy"
)

var (
	blankName      = regexp.MustCompile(`^\s*$`)
	trailingNumber = regexp.MustCompile(`-(\d+)$`)
)

// Every mutation follows the same shape: validate, arm the suppression
// window, touch disk through the adapter, and only then patch the index and
// mark the affected directories dirty. On adapter error the in-memory patch
// is skipped entirely.

// Mk creates an empty file at p unless something already exists there.
func (s *Store) Mk(p string) error {
	p, err := s.checkMutable(p)
	if err != nil {
		return err
	}
	s.LookAway()
	if err := fsops.CreateEmpty(vpath.AddFilesPath(s.root, p)); err != nil {
		return err
	}
	parent := parentOf(p)
	s.mu.Lock()
	s.putFileLocked(parent, pathpkg.Base(p), 0, nowMillis())
	s.mu.Unlock()
	s.update(parent)
	return nil
}

// Mkdir creates the directory at p, including missing parents.
func (s *Store) Mkdir(p string) error {
	p, err := s.checkMutable(p)
	if err != nil {
		return err
	}
	s.LookAway()
	if err := fsops.Mkdir(vpath.AddFilesPath(s.root, p)); err != nil {
		return err
	}
	s.mu.Lock()
	s.putDirLocked(p, nowMillis())
	s.mu.Unlock()
	s.update(p)
	return nil
}

// Del removes the file or directory tree at p.
func (s *Store) Del(p string) error {
	p, err := s.checkMutable(p)
	if err != nil {
		return err
	}
	if p == "/" {
		return fmt.Errorf("%w: cannot delete the root", ErrInvalid)
	}
	s.LookAway()
	real := vpath.AddFilesPath(s.root, p)
	fi, err := fsops.Stat(real)
	if err != nil {
		return err
	}
	parent := parentOf(p)
	if fi.IsDir() {
		if err := fsops.Rmdir(real, true); err != nil {
			return err
		}
		s.mu.Lock()
		s.removeDirLocked(p)
		s.mu.Unlock()
	} else {
		if err := fsops.Rm(real); err != nil {
			return err
		}
		s.mu.Lock()
		s.removeFileLocked(parent, pathpkg.Base(p))
		s.mu.Unlock()
	}
	s.update(parent)
	return nil
}

// Save writes data to the file at p, overwriting any previous content.
func (s *Store) Save(p string, data []byte) error {
	p, err := s.checkMutable(p)
	if err != nil {
		return err
	}
	s.LookAway()
	if err := fsops.WriteFile(vpath.AddFilesPath(s.root, p), data); err != nil {
		return err
	}
	parent := parentOf(p)
	s.mu.Lock()
	s.putFileLocked(parent, pathpkg.Base(p), int64(len(data)), nowMillis())
	s.mu.Unlock()
	s.update(parent)
	return nil
}

// SaveFrom streams r to the file at p. The bytes land under the temporary
// upload suffix first and are renamed into place only when the stream
// completes, so a dropped connection never leaves a half-written file at the
// final path.
func (s *Store) SaveFrom(p string, r io.Reader) (int64, error) {
	p, err := s.checkMutable(p)
	if err != nil {
		return 0, err
	}
	s.LookAway()
	tmp := vpath.AddFilesPath(s.root, vpath.AddUploadSuffix(p))
	f, err := fsops.OpenWrite(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fsops.Rm(tmp)
		return n, err
	}
	s.LookAway()
	if err := fsops.Rename(tmp, vpath.AddFilesPath(s.root, p)); err != nil {
		fsops.Rm(tmp)
		return n, err
	}
	parent := parentOf(p)
	s.mu.Lock()
	s.putFileLocked(parent, pathpkg.Base(p), n, nowMillis())
	s.mu.Unlock()
	s.update(parent)
	return n, nil
}

// Move renames src to dst, relocating a file entry or rekeying a whole
// directory subtree. Share-link targets under src are the caller's concern;
// the link store scans its own records on the completion signal.
func (s *Store) Move(src, dst string) error {
	src, dst, err := s.checkRename(src, dst)
	if err != nil {
		return err
	}
	s.LookAway()
	realSrc := vpath.AddFilesPath(s.root, src)
	fi, err := fsops.Stat(realSrc)
	if err != nil {
		return err
	}
	if err := fsops.Rename(realSrc, vpath.AddFilesPath(s.root, dst)); err != nil {
		return err
	}
	s.mu.Lock()
	if fi.IsDir() {
		s.rekeyDirSubtreeLocked(src, dst)
	} else {
		name := pathpkg.Base(src)
		if d, ok := s.dirs[parentOf(src)]; ok {
			if f, ok := d.Files[name]; ok {
				s.removeFileLocked(parentOf(src), name)
				s.putFileLocked(parentOf(dst), pathpkg.Base(dst), f.Size, f.MTime)
			}
		}
	}
	s.mu.Unlock()
	s.update(parentOf(src))
	s.update(parentOf(dst))
	return nil
}

// Cp copies the file at src to dst, stamping the copy's mtime to now.
func (s *Store) Cp(src, dst string) error {
	src, dst, err := s.checkRename(src, dst)
	if err != nil {
		return err
	}
	s.LookAway()
	if err := fsops.CopyFile(vpath.AddFilesPath(s.root, src), vpath.AddFilesPath(s.root, dst)); err != nil {
		return err
	}
	s.mu.Lock()
	var size int64
	if d, ok := s.dirs[parentOf(src)]; ok {
		size = d.Files[pathpkg.Base(src)].Size
	}
	s.putFileLocked(parentOf(dst), pathpkg.Base(dst), size, nowMillis())
	s.mu.Unlock()
	s.update(parentOf(dst))
	return nil
}

// CpDir recursively copies the directory at src to dst, cloning the subtree
// in the index with every mtime stamped to now.
func (s *Store) CpDir(src, dst string) error {
	src, dst, err := s.checkRename(src, dst)
	if err != nil {
		return err
	}
	s.LookAway()
	if err := fsops.CopyDir(vpath.AddFilesPath(s.root, src), vpath.AddFilesPath(s.root, dst)); err != nil {
		return err
	}
	now := nowMillis()
	s.mu.Lock()
	prefix := src + "/"
	clones := make(map[string]*DirEntry)
	for k, d := range s.dirs {
		var target string
		if k == src {
			target = dst
		} else if strings.HasPrefix(k, prefix) {
			target = dst + "/" + k[len(prefix):]
		} else {
			continue
		}
		clone := &DirEntry{Files: make(map[string]FileEntry, len(d.Files)), MTime: now}
		for name, f := range d.Files {
			clone.Files[name] = FileEntry{Size: f.Size, MTime: now}
		}
		clones[target] = clone
	}
	for k, d := range clones {
		s.dirs[k] = d
	}
	if _, ok := s.dirs[parentOf(dst)]; !ok {
		s.putDirLocked(parentOf(dst), now)
	}
	s.mu.Unlock()
	s.update(parentOf(dst))
	return nil
}

// Clipboard dispatches a paste to move or copy depending on kind and on
// whether src is a directory. When dst already exists, or equals src, the
// destination is first renamed to a unique sibling.
func (s *Store) Clipboard(src, dst, kind string) (string, error) {
	src = vpath.Normalize(src)
	dst = vpath.Normalize(dst)
	if kind != ClipCut && kind != ClipCopy {
		return "", fmt.Errorf("%w: unknown clipboard kind %q", ErrInvalid, kind)
	}
	if src == dst || s.Exists(dst) {
		dst = s.uniqueName(dst)
	}
	fi, err := fsops.Stat(vpath.AddFilesPath(s.root, src))
	if err != nil {
		return "", err
	}
	switch {
	case kind == ClipCut:
		err = s.Move(src, dst)
	case fi.IsDir():
		err = s.CpDir(src, dst)
	default:
		err = s.Cp(src, dst)
	}
	if err != nil {
		return "", err
	}
	return dst, nil
}

// uniqueName derives a destination that does not yet exist by bumping a
// numeric "-n" suffix on the basename, starting from 2 when the name carries
// no suffix yet.
func (s *Store) uniqueName(p string) string {
	dir := parentOf(p)
	ext := pathpkg.Ext(p)
	base := strings.TrimSuffix(pathpkg.Base(p), ext)
	n := 1
	if m := trailingNumber.FindStringSubmatch(base); m != nil {
		n, _ = strconv.Atoi(m[1])
		base = strings.TrimSuffix(base, "-"+m[1])
	}
	for {
		n++
		cand := pathpkg.Join(dir, fmt.Sprintf("%s-%d%s", base, n, ext))
		if !s.Exists(cand) {
			return cand
		}
	}
}

// checkMutable normalizes p and applies the common pre-disk validation.
func (s *Store) checkMutable(p string) (string, error) {
	if s.readOnly {
		return "", ErrReadOnly
	}
	if !vpath.IsPathSane(p, false) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, p)
	}
	return vpath.Normalize(p), nil
}

// checkRename validates a src → dst pair: both sides must be sane, dst must
// not be blank, must differ from src, and a directory can never be moved or
// copied into itself.
func (s *Store) checkRename(src, dst string) (string, string, error) {
	src, err := s.checkMutable(src)
	if err != nil {
		return "", "", err
	}
	if !vpath.IsPathSane(dst, false) || blankName.MatchString(pathpkg.Base(dst)) {
		return "", "", fmt.Errorf("%w: destination %q", ErrInvalid, dst)
	}
	dst = vpath.Normalize(dst)
	if dst == src {
		return "", "", fmt.Errorf("%w: destination equals source", ErrInvalid)
	}
	if strings.HasPrefix(dst, src+"/") {
		return "", "", fmt.Errorf("%w: cannot place %q inside itself", ErrInvalid, src)
	}
	return src, dst, nil
}
