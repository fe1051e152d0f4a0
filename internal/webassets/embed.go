// Package webassets embeds the pages served when a request does not resolve
// to any published site.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

// NotFoundPage is the file name sitehandler looks up in FallbackFS
const NotFoundPage = "404.html"

//go:embed fallback
var embedded embed.FS

// FallbackFS returns the embedded fallback pages rooted at fallback/
func FallbackFS() fs.FS {
	sub, err := fs.Sub(embedded, "fallback")
	if err != nil {
		panic(fmt.Errorf("webassets: fallback subfs: %w", err))
	}
	return sub
}
