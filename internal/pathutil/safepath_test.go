package pathutil

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

// TestHasDotSegments tests the helper directly for clarity
func TestHasDotSegments(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/normal/path", false},
		{"/path/./here", true},
		{"/path/../up", true},
		{".", true},
		{"..", true},
		{"/...", false},     // three dots is not a dot segment
		{"/.hidden", false}, // dotfile, not a dot segment
		{"/.dotdir/file", false},
		{"/path/to/.", true},
		{"/./", true},
		{"/../", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := HasDotSegments(tt.path)
			if got != tt.want {
				t.Errorf("hasDotSegments(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func FuzzHasDotSegments(f *testing.F) {
	f.Add("foo/./bar")
	f.Add("foo/../bar")
	f.Add("./foo")
	f.Add("foo/.")
	f.Add(".")
	f.Add("..")
	f.Add("foo/bar")
	f.Add("...") // triple dot is a name, not a dot segment

	f.Fuzz(func(t *testing.T, p string) {
		result := HasDotSegments(p)
		// INVARIANT: if result is false, no segment equals "." or ".."
		segments := strings.Split(p, "/")
		hasDangerousSegment := false
		for _, seg := range segments {
			if seg == "." || seg == ".." {
				hasDangerousSegment = true
				break
			}
		}
		if result != hasDangerousSegment {
			t.Errorf("hasDotSegments(%q) = %v, but manual check = %v", p, result, hasDangerousSegment)
		}
	})
}

// SafeJoin

func TestSafeJoin_Accepts(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		entry string
		want  string
	}{
		{"index.html", filepath.Join(root, "index.html")},
		{"css/style.css", filepath.Join(root, "css", "style.css")},
		{"a/../b.txt", filepath.Join(root, "b.txt")},
		{"./site/", filepath.Join(root, "site")},
		{"./", root},
		{`win\dir\file.js`, filepath.Join(root, "win", "dir", "file.js")},
		{"...", filepath.Join(root, "...")},
		{"..foo/bar", filepath.Join(root, "..foo", "bar")},
	}
	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			got, err := SafeJoin(root, tt.entry)
			if err != nil {
				t.Fatalf("SafeJoin(%q): %v", tt.entry, err)
			}
			if got != tt.want {
				t.Fatalf("SafeJoin(%q) = %q, want %q", tt.entry, got, tt.want)
			}
		})
	}
}

func TestSafeJoin_Rejects(t *testing.T) {
	root := t.TempDir()
	entries := []string{
		"../../etc/passwd",
		"/etc/passwd",
		"a/../../b",
		"../../../tmp/evil",
		"..",
		`..\..\windows\system32`,
		`\\server\share\x`,
		"C:/Windows/x",
		"c:evil",
		"",
		"ok\x00.html",
	}
	for _, e := range entries {
		t.Run(e, func(t *testing.T) {
			if got, err := SafeJoin(root, e); err == nil {
				t.Fatalf("SafeJoin(%q) = %q, want rejection", e, got)
			} else if !errors.Is(err, ErrUnsafePath) {
				t.Fatalf("error %v does not wrap ErrUnsafePath", err)
			}
		})
	}
}

func TestSafeJoin_RelativeRootRejected(t *testing.T) {
	if _, err := SafeJoin("relative/root", "index.html"); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("err = %v, want ErrUnsafePath", err)
	}
}

func TestSafeJoin_PrefixSiblingNotAccepted(t *testing.T) {
	// root "/x/site" must not accept a target under "/x/site-evil"
	root := filepath.Join(t.TempDir(), "site")
	got, err := SafeJoin(root, "../site-evil/index.html")
	if err == nil {
		t.Fatalf("SafeJoin accepted sibling target %q", got)
	}
}

func FuzzSafeJoin(f *testing.F) {
	f.Add("index.html")
	f.Add("../../etc/passwd")
	f.Add("/etc/passwd")
	f.Add("a/../../b")
	f.Add("a/./b/../c")
	f.Add(`..\x`)

	root := filepath.Join(string(filepath.Separator), "srv", "sites", "abc")
	f.Fuzz(func(t *testing.T, entry string) {
		got, err := SafeJoin(root, entry)
		if err != nil {
			return
		}
		// INVARIANT: every accepted target is root or a descendant of it
		if got != root && !strings.HasPrefix(got, root+string(filepath.Separator)) {
			t.Fatalf("SafeJoin(%q) = %q escapes %q", entry, got, root)
		}
		rel, rerr := filepath.Rel(root, got)
		if rerr != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			t.Fatalf("SafeJoin(%q) = %q, rel %q escapes root", entry, got, rel)
		}
	})
}
