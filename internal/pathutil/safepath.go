package pathutil

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ErrUnsafePath marks an entry path that could land outside its destination root.
var ErrUnsafePath = errors.New("unsafe path")

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// SafeJoin resolves an archive entry name against root without touching the
// filesystem and returns the absolute target. root must be absolute.
//
// The entry is rejected when it is absolute (including volume names and
// backslash-rooted forms), when a ".." survives normalization, or when the
// joined target does not keep root as a literal prefix. An entry that cleans
// to the root itself ("./") resolves to root.
func SafeJoin(root, entry string) (string, error) {
	if !filepath.IsAbs(root) {
		return "", fmt.Errorf("%w: root %q is not absolute", ErrUnsafePath, root)
	}
	if entry == "" || strings.ContainsRune(entry, 0) {
		return "", fmt.Errorf("%w: empty or NUL in entry %q", ErrUnsafePath, entry)
	}

	// archive names are slash separated, but some writers emit backslashes
	name := strings.ReplaceAll(entry, "\\", "/")
	if path.IsAbs(name) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" || hasDriveLetter(name) {
		return "", fmt.Errorf("%w: absolute entry %q", ErrUnsafePath, entry)
	}

	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: traversal in entry %q", ErrUnsafePath, entry)
	}

	root = filepath.Clean(root)
	if clean == "." {
		return root, nil
	}

	target := filepath.Join(root, filepath.FromSlash(clean))
	if !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: entry %q escapes destination", ErrUnsafePath, entry)
	}
	return target, nil
}

// hasDriveLetter catches "C:/x" style names on every platform
func hasDriveLetter(p string) bool {
	return len(p) >= 2 && p[1] == ':' &&
		((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}
