// Package ignore matches virtual paths against configured glob patterns.
// Paths that match are skipped by the scanner and watcher and therefore
// never enter the index.
package ignore

import (
	"fmt"
	pathpkg "path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// pattern is a single parsed ignore pattern.
type pattern struct {
	// matchLeaf indicates that the pattern should also be tried against a
	// path's base name, not just the whole path.
	matchLeaf bool
	// glob is the doublestar pattern to match.
	glob string
}

// Matcher holds a parsed pattern list.
type Matcher struct {
	patterns []pattern
}

// NewMatcher validates and parses the given glob patterns.
func NewMatcher(globs []string) (*Matcher, error) {
	m := &Matcher{}
	for _, g := range globs {
		g = strings.TrimSpace(g)
		if g == "" || g == "/" {
			return nil, fmt.Errorf("invalid ignore pattern %q", g)
		}
		absolute := strings.HasPrefix(g, "/")
		g = strings.TrimPrefix(g, "/")
		g = strings.TrimSuffix(g, "/")
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("invalid ignore pattern %q", g)
		}
		m.patterns = append(m.patterns, pattern{
			matchLeaf: !absolute && !strings.Contains(g, "/"),
			glob:      g,
		})
	}
	return m, nil
}

// Ignored reports whether the virtual path p matches any pattern.
func (m *Matcher) Ignored(p string) bool {
	if m == nil {
		return false
	}
	rel := strings.TrimPrefix(p, "/")
	base := pathpkg.Base(p)
	for _, pat := range m.patterns {
		if ok, _ := doublestar.Match(pat.glob, rel); ok {
			return true
		}
		if pat.matchLeaf {
			if ok, _ := doublestar.Match(pat.glob, base); ok {
				return true
			}
		}
	}
	return false
}
