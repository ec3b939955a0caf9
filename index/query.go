package index

import (
	"fmt"
	pathpkg "path"
	"regexp"
	"sort"
	"strings"

	"driftserver/vpath"
)

// entryLine is the wire form of a single entry: "<kind>|<mtime-seconds>|<size>".
func entryLine(kind byte, mtimeMillis, size int64) string {
	return fmt.Sprintf("%c|%d|%d", kind, mtimeMillis/1000, size)
}

// Ls returns the wire entries for the files directly in p and its immediate
// child directories. ok is false when p is not in the index.
func (s *Store) Ls(p string) (map[string]string, bool) {
	p = vpath.Normalize(p)
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dirs[p]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(d.Files))
	for name, f := range d.Files {
		out[name] = entryLine('f', f.MTime, f.Size)
	}
	for k, child := range s.dirs {
		if parentOf(k) == p && k != "/" {
			out[pathpkg.Base(k)] = entryLine('d', child.MTime, child.Size)
		}
	}
	return out, true
}

// LsFilter returns the names of files directly in p matching re, in natural
// sort order.
func (s *Store) LsFilter(p string, re *regexp.Regexp) ([]string, bool) {
	p = vpath.Normalize(p)
	s.mu.RLock()
	d, ok := s.dirs[p]
	if !ok {
		s.mu.RUnlock()
		return nil, false
	}
	var names []string
	for name := range d.Files {
		if re.MatchString(name) {
			names = append(names, name)
		}
	}
	s.mu.RUnlock()
	sort.Slice(names, func(i, j int) bool { return vpath.NaturalSort(names[i], names[j]) })
	return names, true
}

// PathSize pairs a virtual file path with its size, for transport-layer
// consumers that enumerate whole subtrees (archive downloads).
type PathSize struct {
	Path string
	Size int64
}

// FilesUnder returns every file at or below p as virtual paths with sizes.
func (s *Store) FilesUnder(p string) []PathSize {
	p = vpath.Normalize(p)
	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PathSize
	for k, d := range s.dirs {
		if k != p && !strings.HasPrefix(k, prefix) {
			continue
		}
		for name, f := range d.Files {
			full := k + "/" + name
			if k == "/" {
				full = "/" + name
			}
			out = append(out, PathSize{Path: full, Size: f.Size})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Search matches query case-insensitively as a substring against every
// indexed path under scope, scope itself excluded. Display names are
// relative to scope. A search with no hits returns nil.
func (s *Store) Search(query, scope string) map[string]string {
	scope = vpath.Normalize(scope)
	needle := strings.ToLower(query)
	prefix := scope + "/"
	if scope == "/" {
		prefix = "/"
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out map[string]string
	hit := func(display, line string) {
		if out == nil {
			out = make(map[string]string)
		}
		out[display] = line
	}
	for k, d := range s.dirs {
		if k != scope && strings.HasPrefix(k, prefix) && strings.Contains(strings.ToLower(k), needle) {
			hit(strings.TrimPrefix(k, prefix), entryLine('d', d.MTime, d.Size))
		}
		for name, f := range d.Files {
			full := k + "/" + name
			if k == "/" {
				full = "/" + name
			}
			if strings.HasPrefix(full, prefix) && strings.Contains(strings.ToLower(full), needle) {
				hit(strings.TrimPrefix(full, prefix), entryLine('f', f.MTime, f.Size))
			}
		}
	}
	return out
}
