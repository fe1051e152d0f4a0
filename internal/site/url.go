package site

import (
	"net/url"
	"strings"
)

// URL returns the public path for a published site.
//
// Single files keep their filename in the path. Archives resolve to the site
// directory itself and the static handler serves its index.html; the original
// archive name never exists on disk after extraction.
func URL(prefix, id string, kind Kind, filename string) string {
	base := strings.TrimRight(prefix, "/") + "/" + url.PathEscape(id) + "/"
	if kind.IsArchive() {
		return base
	}
	return base + url.PathEscape(filename)
}

// URLFor is URL applied to a stored record
func URLFor(prefix string, s Site) string {
	return URL(prefix, s.ID, s.Kind, s.OriginalFilename)
}
