package sitehandler

import (
	"io/fs"
	"path"
	"strings"

	"github.com/keithlinneman/sitedrop/internal/pathutil"
)

// resolvePath maps a path inside one site to a file in its FS. A non-empty
// redirectTo is the canonical path the caller should redirect to instead.
//
//	/            index.html
//	/dir/        dir/index.html
//	/dir         redirect to /dir/ when dir/index.html exists
//	/page        page, else page.html
//	/style.css   style.css
func resolvePath(urlPath string, fsys fs.FS) (file, redirectTo string, ok bool) {
	p := "/" + strings.TrimPrefix(urlPath, "/")
	if unsafePath(p) {
		return "", "", false
	}

	dir := strings.HasSuffix(p, "/")
	clean := path.Clean(p)
	name := strings.TrimPrefix(clean, "/")

	if dir || clean == "/" {
		return found(fsys, path.Join(name, "index.html"))
	}
	if path.Ext(clean) != "" {
		return found(fsys, name)
	}

	// extensionless: exact file, then directory, then the .html sibling
	if existsFile(fsys, name) {
		return name, "", true
	}
	if existsFile(fsys, name+"/index.html") {
		return "", clean + "/", true
	}
	return found(fsys, name+".html")
}

func found(fsys fs.FS, name string) (string, string, bool) {
	if existsFile(fsys, name) {
		return name, "", true
	}
	return "", "", false
}

// unsafePath rejects anything ambiguous before it reaches the FS, including
// dotfiles. Uploads often carry .git or editor leftovers.
func unsafePath(p string) bool {
	if strings.ContainsAny(p, "\x00\\") || strings.Contains(p, "..") {
		return true
	}
	return pathutil.HasDotSegments(p) || hasHiddenSegment(p)
}

func hasHiddenSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func existsFile(fsys fs.FS, name string) bool {
	if !fs.ValidPath(name) || name == "." {
		return false
	}
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
