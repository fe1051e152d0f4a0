package sitehandler

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/keithlinneman/sitedrop/internal/log"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

// DefaultContentSecurityPolicy runs published content in an opaque origin so
// one site cannot read cookies or storage belonging to another or to the API.
const DefaultContentSecurityPolicy = "sandbox allow-scripts allow-forms allow-popups allow-modals allow-downloads"

type Options struct {
	Logger log.Logger

	// Root is the publication root; site {id} is served from Root/{id}
	Root string

	// Prefix is the URL path sites live under, e.g. "/site"
	Prefix string

	// optional fallback FS for a branded 404 page
	FallbackFS fs.FS

	// file names inside the FS roots (relative path)
	// - Fallback404File is read from FallbackFS
	// - Site404File is read from the site's own directory
	Fallback404File string // default: "404.html"
	Site404File     string // default: "404.html"

	// Cache policies applied by file extension.
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=3600"
	OtherCacheControl string // default: "public, max-age=300"

	// ContentSecurityPolicy is sent with every site response. Default: sandbox.
	ContentSecurityPolicy string
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Prefix == "" {
		o.Prefix = "/site"
	}
	o.Prefix = "/" + strings.Trim(o.Prefix, "/")
	if o.Fallback404File == "" {
		o.Fallback404File = "404.html"
	}
	if o.Site404File == "" {
		o.Site404File = "404.html"
	}
	// sites are mutable by delete + republish under the same alias, so
	// assets are not immutable here
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=3600"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=300"
	}
	if o.ContentSecurityPolicy == "" {
		o.ContentSecurityPolicy = DefaultContentSecurityPolicy
	}
}

func (o *Options) validate() error {
	if o.Root == "" {
		return fmt.Errorf("%w: Root is empty", ErrInvalidOptions)
	}
	abs, err := filepath.Abs(o.Root)
	if err != nil {
		return fmt.Errorf("%w: resolve root: %v", ErrInvalidOptions, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("%w: root %q: %v", ErrInvalidOptions, o.Root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: root %q is not a directory", ErrInvalidOptions, o.Root)
	}
	o.Root = abs
	// Fallback 404 is optional; we degrade to plain text if missing.
	return nil
}
