package ignore

import "testing"

func TestMatcher(t *testing.T) {
	m, err := NewMatcher([]string{"*.swp", ".git", "/tmp/**"})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	cases := []struct {
		p    string
		want bool
	}{
		{"/a/b/file.swp", true},
		{"/a/.git", true},
		{"/a/.git/config", false}, // only the directory itself matches; scanner prunes below it
		{"/tmp/x/y", true},
		{"/a/file.txt", false},
	}
	for _, c := range cases {
		if got := m.Ignored(c.p); got != c.want {
			t.Errorf("Ignored(%q) = %v, want %v", c.p, got, c.want)
		}
	}
}

func TestMatcherRejectsBadPatterns(t *testing.T) {
	for _, g := range []string{"", "/", "a[", " "} {
		if _, err := NewMatcher([]string{g}); err == nil {
			t.Errorf("NewMatcher(%q): expected error", g)
		}
	}
}

func TestNilMatcher(t *testing.T) {
	var m *Matcher
	if m.Ignored("/anything") {
		t.Error("nil matcher must ignore nothing")
	}
}
