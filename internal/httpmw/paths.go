package httpmw

import (
	"path"
	"strings"
)

var probePaths = map[string]bool{
	"/-/healthy": true,
	"/-/ready":   true,
	"/-/ping":    true,
}

// assets fetched alongside every page view of a published site
var assetExts = map[string]bool{
	".css": true, ".js": true, ".map": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true, ".ico": true,
	".woff": true, ".woff2": true,
}

// IsProbePath reports load balancer and liveness endpoints
func IsProbePath(p string) bool { return probePaths[p] }

func IsAssetPath(p string) bool { return assetExts[strings.ToLower(path.Ext(p))] }

// Quiet reports whether requests for p are kept out of traces and the
// access log
func Quiet(p string) bool {
	return IsProbePath(p) || IsAssetPath(p) || p == "/robots.txt"
}
