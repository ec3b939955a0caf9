package index

import (
	"sort"
	"strings"
	"time"

	"driftserver/vpath"
)

const (
	// drainDelay is the trailing debounce window for update notifications.
	drainDelay = 100 * time.Millisecond
	// suppressionWindow is how long watcher-driven rescans stay disabled
	// after a self-induced mutation. Each mutation re-arms the full window.
	suppressionWindow = 3 * time.Second
)

// Subscriber receives coalesced change notifications. OnUpdate fires once
// per minimal-cover directory after the debounce window; OnUpdateAll fires
// after a watcher-driven rescan.
type Subscriber interface {
	OnUpdate(dir string)
	OnUpdateAll()
}

// Subscribe registers sub for future notifications.
func (s *Store) Subscribe(sub Subscriber) {
	s.busMu.Lock()
	s.subs = append(s.subs, sub)
	s.busMu.Unlock()
}

// LookAway disables watcher-driven rescans for the suppression window.
// The mutation engine calls it before every disk write so the watcher never
// re-reads state the engine has already patched into the index.
func (s *Store) LookAway() {
	s.supMu.Lock()
	s.suppressUntil = time.Now().Add(suppressionWindow)
	s.supMu.Unlock()
}

// Suppressed reports whether watcher events should currently be discarded.
func (s *Store) Suppressed() bool {
	s.supMu.Lock()
	defer s.supMu.Unlock()
	return time.Now().Before(s.suppressUntil)
}

// update recomputes sizes, marks p dirty, and (re-)arms the drain timer.
func (s *Store) update(p string) {
	s.mu.Lock()
	s.recomputeSizesLocked()
	s.mu.Unlock()

	s.busMu.Lock()
	s.pending[p] = struct{}{}
	s.armDrainLocked()
	s.busMu.Unlock()
}

// markAll behaves like update but also flags a global notification, used
// after a full rescan.
func (s *Store) markAll(dirs []string) {
	s.busMu.Lock()
	for _, p := range dirs {
		s.pending[p] = struct{}{}
	}
	s.emitAll = true
	s.armDrainLocked()
	s.busMu.Unlock()
}

// armDrainLocked starts or resets the trailing drain timer. Must be called
// with busMu held.
func (s *Store) armDrainLocked() {
	if s.drain == nil {
		s.drain = time.AfterFunc(drainDelay, s.drainPending)
		return
	}
	s.drain.Reset(drainDelay)
}

// drainPending empties the pending set, reduces it to its minimal cover,
// and delivers notifications. Exclusive access is held only long enough to
// take and clear the set; subscribers run without any lock held.
func (s *Store) drainPending() {
	s.busMu.Lock()
	dirty := make([]string, 0, len(s.pending))
	for p := range s.pending {
		dirty = append(dirty, p)
	}
	s.pending = make(map[string]struct{})
	all := s.emitAll
	s.emitAll = false
	subs := make([]Subscriber, len(s.subs))
	copy(subs, s.subs)
	s.busMu.Unlock()

	for _, p := range minimalCover(dirty) {
		for _, sub := range subs {
			sub.OnUpdate(p)
		}
	}
	if all {
		for _, sub := range subs {
			sub.OnUpdateAll()
		}
	}
}

// minimalCover sorts the dirty paths by depth and drops every strict
// descendant of another member, so each notification names the shallowest
// changed directory only.
func minimalCover(paths []string) []string {
	sort.Slice(paths, func(i, j int) bool {
		di := vpath.CountOccurrences(paths[i], "/")
		dj := vpath.CountOccurrences(paths[j], "/")
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})
	var cover []string
	for _, p := range paths {
		if covered(p, cover) {
			continue
		}
		cover = append(cover, p)
	}
	return cover
}

// covered reports whether p equals or descends from any member of cover.
func covered(p string, cover []string) bool {
	for _, q := range cover {
		if p == q {
			return true
		}
		if q == "/" || strings.HasPrefix(p, q+"/") {
			return true
		}
	}
	return false
}
