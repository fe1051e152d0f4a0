package archive

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

// macMetadataDir is what macOS archivers add next to the real content
const macMetadataDir = "__MACOSX"

// hidden reports whether a top-level entry is noise for layout decisions
func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || name == macMetadataDir
}

// Normalize collapses a single wrapping directory in dir, the layout many
// archivers produce ("site/index.html" instead of "index.html").
//
// When the only visible top-level entry is a directory, its contents move up
// into dir, the wrapper is removed, and the hidden/metadata entries that sat
// beside it are deleted. Anything else is left untouched. Only one level is
// ever unwrapped, and a wrapper that itself holds just one directory is left
// alone, so running Normalize again never changes the result.
//
// Returns whether the layout changed.
func Normalize(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, xerrors.Wrap(err, "list extracted root")
	}

	var visible, excluded []os.DirEntry
	for _, e := range entries {
		if hidden(e.Name()) {
			excluded = append(excluded, e)
		} else {
			visible = append(visible, e)
		}
	}
	if len(visible) != 1 || !visible[0].IsDir() {
		return false, nil
	}

	wrapper := filepath.Join(dir, visible[0].Name())
	inner, err := os.ReadDir(wrapper)
	if err != nil {
		return false, xerrors.Wrapf(err, "list wrapper %s", visible[0].Name())
	}
	// unwrapping a/b/ would leave b/ as a lone wrapper that a second call
	// would collapse too; repeat calls must agree, so nested wrappers stay
	// as uploaded instead of losing exactly one level
	if singleVisibleDir(inner) {
		return false, nil
	}

	// move the wrapper aside first so an inner entry sharing its name can move up
	staging, err := stagingName(dir)
	if err != nil {
		return false, err
	}
	if err := os.Rename(wrapper, staging); err != nil {
		return false, xerrors.Wrapf(err, "stage wrapper %s", visible[0].Name())
	}

	// dropped before the move so they cannot collide with hidden files from the wrapper
	for _, e := range excluded {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return false, xerrors.Wrapf(err, "remove %s", e.Name())
		}
	}

	for _, e := range inner {
		from := filepath.Join(staging, e.Name())
		to := filepath.Join(dir, e.Name())
		if err := os.Rename(from, to); err != nil {
			return false, xerrors.Wrapf(err, "move %s up", e.Name())
		}
	}

	if err := os.Remove(staging); err != nil {
		return false, xerrors.Wrap(err, "remove emptied wrapper")
	}
	return true, nil
}

// singleVisibleDir reports whether the only visible entry is a directory
func singleVisibleDir(entries []os.DirEntry) bool {
	var vis []os.DirEntry
	for _, e := range entries {
		if !hidden(e.Name()) {
			vis = append(vis, e)
		}
	}
	return len(vis) == 1 && vis[0].IsDir()
}

func stagingName(dir string) (string, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", xerrors.Wrap(err, "staging name")
	}
	return filepath.Join(dir, ".unwrap-"+hex.EncodeToString(b[:])), nil
}
