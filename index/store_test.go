package index

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftserver/vpath"
)

// newTestStore builds a store over a temp root seeded with
// /a/f1 (10 bytes), /a/b/f2 (20 bytes), /c/f3 (5 bytes).
func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "c"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "f1"), make([]byte, 10), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "f2"), make([]byte, 20), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c", "f3"), make([]byte, 5), 0o644))

	s := NewStore(Options{Root: root})
	require.NoError(t, Init(s))
	return s
}

// size returns the aggregate size of the directory at p.
func size(t *testing.T, s *Store, p string) int64 {
	t.Helper()
	d, ok := s.Get(p)
	require.True(t, ok, "directory %s missing from index", p)
	return d.Size
}

// checkInvariants asserts the structural invariants that must hold after
// every completed mutation: parents present, no path both file and
// directory, sizes consistent, keys clean.
func checkInvariants(t *testing.T, s *Store) {
	t.Helper()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for p, d := range s.dirs {
		if p != "/" {
			_, ok := s.dirs[parentOf(p)]
			assert.True(t, ok, "parent of %s missing", p)
			assert.Equal(t, vpath.Normalize(p), p, "key %s not clean", p)
		}
		var want int64
		for name, f := range d.Files {
			child := p + "/" + name
			if p == "/" {
				child = "/" + name
			}
			_, dup := s.dirs[child]
			assert.False(t, dup, "%s is both file and directory", child)
			want += f.Size
		}
		for k, c := range s.dirs {
			if k != "/" && parentOf(k) == p {
				want += c.Size
			}
		}
		assert.Equal(t, want, d.Size, "size of %s inconsistent", p)
	}
}

func TestInitialScan(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, int64(35), size(t, s, "/"))
	assert.Equal(t, int64(30), size(t, s, "/a"))
	assert.Equal(t, int64(20), size(t, s, "/a/b"))
	assert.Equal(t, int64(5), size(t, s, "/c"))

	ls, ok := s.Ls("/a")
	require.True(t, ok)
	require.Len(t, ls, 2)
	assert.Regexp(t, `^f\|\d+\|10$`, ls["f1"])
	assert.Regexp(t, `^d\|\d+\|20$`, ls["b"])

	checkInvariants(t, s)
}

func TestRecomputeSizesIdempotent(t *testing.T) {
	s := newTestStore(t)
	s.mu.Lock()
	s.recomputeSizesLocked()
	first := s.dirs["/"].Size
	s.recomputeSizesLocked()
	second := s.dirs["/"].Size
	s.mu.Unlock()
	assert.Equal(t, first, second)
	assert.Equal(t, int64(35), second)
}

func TestLsUnknownPath(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.Ls("/nope")
	assert.False(t, ok)
}

func TestLsFilter(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Mk("/a/f10"))
	require.NoError(t, s.Mk("/a/g1"))

	names, ok := s.LsFilter("/a", regexp.MustCompile(`^f`))
	require.True(t, ok)
	// Natural order: f1 before f10.
	assert.Equal(t, []string{"f1", "f10"}, names)
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)

	res := s.Search("F2", "/a")
	require.Len(t, res, 1)
	assert.Contains(t, res, "b/f2")
	assert.True(t, strings.HasPrefix(res["b/f2"], "f|"))

	// Scope itself is excluded.
	res = s.Search("a", "/a")
	assert.NotContains(t, res, "")

	// Directory hits are reported too, relative to the scope.
	res = s.Search("b", "/")
	assert.Contains(t, res, "a/b")
	assert.True(t, strings.HasPrefix(res["a/b"], "d|"))

	// Empty result is nil.
	assert.Nil(t, s.Search("zzz", "/"))
}

func TestScanFollowsSymlinks(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "f1"), make([]byte, 10), 0o644))
	if err := os.Symlink(filepath.Join(root, "a"), filepath.Join(root, "alias")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(root, "a", "f1"), filepath.Join(root, "f1link")))

	s := NewStore(Options{Root: root})
	require.NoError(t, Init(s))

	// The linked directory is indexed under the link's own name.
	d, ok := s.Get("/alias")
	require.True(t, ok, "symlinked directory missing from index")
	assert.Contains(t, d.Files, "f1")
	assert.Equal(t, int64(10), d.Size)

	// A linked file carries its target's size.
	r, _ := s.Get("/")
	assert.Equal(t, int64(10), r.Files["f1link"].Size)

	assert.Equal(t, int64(30), size(t, s, "/"))
	checkInvariants(t, s)
}

func TestScanBreaksSymlinkCycles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a"), 0o755))
	if err := os.Symlink(root, filepath.Join(root, "a", "loop")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	s := NewStore(Options{Root: root})
	require.NoError(t, Init(s))

	// The cycle terminates instead of recursing forever; the looping link
	// itself stays out of the index.
	_, ok := s.Get("/a/loop")
	assert.False(t, ok)
	checkInvariants(t, s)
}

func TestRescanPicksUpExternalChanges(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "c", "f4"), make([]byte, 7), 0o644))

	s.Rescan()

	assert.Equal(t, int64(12), size(t, s, "/c"))
	assert.Equal(t, int64(42), size(t, s, "/"))
	checkInvariants(t, s)
}

func TestRescanDropsVanishedDirs(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.RemoveAll(filepath.Join(s.Root(), "a")))

	s.Rescan()

	_, ok := s.Get("/a")
	assert.False(t, ok)
	_, ok = s.Get("/a/b")
	assert.False(t, ok)
	assert.Equal(t, int64(5), size(t, s, "/"))
	checkInvariants(t, s)
}

// recordingSub collects notifications for assertions.
type recordingSub struct {
	mu      sync.Mutex
	updates []string
	all     int
}

func (r *recordingSub) OnUpdate(dir string) {
	r.mu.Lock()
	r.updates = append(r.updates, dir)
	r.mu.Unlock()
}

func (r *recordingSub) OnUpdateAll() {
	r.mu.Lock()
	r.all++
	r.mu.Unlock()
}

func (r *recordingSub) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.updates...), r.all
}

func TestMinimalCover(t *testing.T) {
	got := minimalCover([]string{"/a/b", "/a", "/a/b/c", "/x", "/a"})
	assert.Equal(t, []string{"/a", "/x"}, got)

	// Root covers everything.
	got = minimalCover([]string{"/", "/a", "/b/c"})
	assert.Equal(t, []string{"/"}, got)
}

func TestDrainCoalescesToMinimalCover(t *testing.T) {
	s := newTestStore(t)
	sub := &recordingSub{}
	s.Subscribe(sub)

	s.update("/a")
	s.update("/a/b")

	time.Sleep(3 * drainDelay)
	updates, all := sub.snapshot()
	assert.Equal(t, []string{"/a"}, updates)
	assert.Zero(t, all)
}

func TestRescanEmitsUpdateAll(t *testing.T) {
	s := newTestStore(t)
	sub := &recordingSub{}
	s.Subscribe(sub)

	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "c", "new"), []byte("x"), 0o644))
	s.Rescan()

	time.Sleep(3 * drainDelay)
	updates, all := sub.snapshot()
	assert.Equal(t, 1, all)
	assert.Contains(t, updates, "/c")
}
