package sitehandler

import (
	"path"
	"strings"

	"github.com/keithlinneman/sitedrop/internal/httpmw"
)

// extensions beyond the asset set that rarely change between uploads
var longLivedExts = map[string]bool{".mjs": true, ".ttf": true, ".eot": true, ".avif": true}

// cacheControlForFile picks a policy by extension. Extensionless files are
// treated as pages since they are usually served as text/html.
func cacheControlForFile(name string, o *Options) string {
	ext := strings.ToLower(path.Ext(name))
	switch {
	case ext == ".html" || ext == ".htm" || ext == "":
		return o.HTMLCacheControl
	case httpmw.IsAssetPath(name) || longLivedExts[ext]:
		return o.AssetCacheControl
	default:
		return o.OtherCacheControl
	}
}
