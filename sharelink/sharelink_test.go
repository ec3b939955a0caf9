package sharelink

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "links.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateResolveDelete(t *testing.T) {
	s := openTestStore(t)

	token, err := s.Create("/docs/report.pdf")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(token) != 16 {
		t.Errorf("token length = %d, want 16", len(token))
	}

	target, ok := s.Resolve(token)
	if !ok || target != "/docs/report.pdf" {
		t.Errorf("Resolve = %q, %v", target, ok)
	}

	if err := s.Delete(token); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Resolve(token); ok {
		t.Error("token resolvable after delete")
	}
}

func TestResolveUnknown(t *testing.T) {
	s := openTestStore(t)
	if _, ok := s.Resolve("nope"); ok {
		t.Error("unknown token resolved")
	}
}

func TestRetargetRewritesSubtree(t *testing.T) {
	s := openTestStore(t)

	exact, _ := s.Create("/a/b")
	nested, _ := s.Create("/a/b/deep/file.txt")
	other, _ := s.Create("/a/bc") // sibling with a common prefix must not move

	if err := s.Retarget("/a/b", "/c/b"); err != nil {
		t.Fatalf("Retarget: %v", err)
	}

	if target, _ := s.Resolve(exact); target != "/c/b" {
		t.Errorf("exact target = %q", target)
	}
	if target, _ := s.Resolve(nested); target != "/c/b/deep/file.txt" {
		t.Errorf("nested target = %q", target)
	}
	if target, _ := s.Resolve(other); target != "/a/bc" {
		t.Errorf("sibling target = %q, want untouched", target)
	}
}

func TestDropTarget(t *testing.T) {
	s := openTestStore(t)
	tok, _ := s.Create("/gone/file")
	keep, _ := s.Create("/stays")

	if err := s.DropTarget("/gone"); err != nil {
		t.Fatalf("DropTarget: %v", err)
	}
	if _, ok := s.Resolve(tok); ok {
		t.Error("dropped link still resolves")
	}
	if _, ok := s.Resolve(keep); !ok {
		t.Error("unrelated link lost")
	}
}
