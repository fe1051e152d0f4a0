package sitehandler

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/keithlinneman/sitedrop/internal/httpmw"
	"github.com/keithlinneman/sitedrop/internal/site"
)

// Handler serves published sites read-only from the publication root
type Handler struct {
	opts Options
}

func New(opts *Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: *opts}, nil
}

// Prefix returns the URL path the handler serves, without trailing slash.
func (h *Handler) Prefix() string { return h.opts.Prefix }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// every response may carry user content, 404 pages included
	hdr := w.Header()
	hdr.Set("Content-Security-Policy", h.opts.ContentSecurityPolicy)
	// published pages commonly pull fonts and scripts from CDNs
	hdr.Set("Cross-Origin-Embedder-Policy", "unsafe-none")

	id, rest, ok := h.splitSitePath(r.URL.Path)
	if !ok {
		h.notFound(w, r, nil)
		return
	}
	httpmw.SetRoutePattern(r, h.opts.Prefix+"/{id}/*")
	h.serveSite(w, r, id, rest)
}

func (h *Handler) serveSite(w http.ResponseWriter, r *http.Request, id, rest string) {
	siteFS := h.siteFS(r, id)
	if siteFS == nil {
		h.notFound(w, r, nil)
		return
	}
	base := h.opts.Prefix + "/" + id

	// relative links inside the site only resolve below a trailing slash
	if rest == "" {
		http.Redirect(w, r, base+"/", http.StatusPermanentRedirect)
		return
	}

	file, redirectTo, found := resolvePath(rest, siteFS)
	switch {
	case redirectTo != "":
		http.Redirect(w, r, base+redirectTo, http.StatusPermanentRedirect)
	case !found:
		h.notFound(w, r, siteFS)
	default:
		if cc := cacheControlForFile(file, &h.opts); cc != "" {
			w.Header().Set("Cache-Control", cc)
		}
		http.ServeFileFS(w, r, siteFS, file)
	}
}

// splitSitePath turns "/site/{id}/rest" into id and "/rest". rest is empty
// when the request names the site without a trailing slash.
func (h *Handler) splitSitePath(p string) (id, rest string, ok bool) {
	after, found := strings.CutPrefix(p, h.opts.Prefix+"/")
	if !found {
		return "", "", false
	}
	id, rest, slash := strings.Cut(after, "/")
	if !site.ValidID(id) {
		return "", "", false
	}
	if slash {
		rest = "/" + rest
	}
	return id, rest, true
}

// siteFS opens the site's directory, nil when there is none. Extraction
// never creates symlinks, so os.DirFS stays inside the directory.
func (h *Handler) siteFS(r *http.Request, id string) fs.FS {
	dir := filepath.Join(h.opts.Root, id)
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		h.opts.Logger.Warn(r.Context(), "site directory unreadable", "site_id", id, "error", err)
		return nil
	case !info.IsDir():
		return nil
	}
	return os.DirFS(dir)
}

// notFound prefers the site's own 404 page, then the branded fallback,
// then plain text. 404s are never cached.
func (h *Handler) notFound(w http.ResponseWriter, r *http.Request, siteFS fs.FS) {
	w.Header().Set("Cache-Control", "no-store")

	pages := []struct {
		fsys fs.FS
		name string
	}{
		{siteFS, h.opts.Site404File},
		{h.opts.FallbackFS, h.opts.Fallback404File},
	}
	for _, p := range pages {
		if p.fsys != nil && existsFile(p.fsys, p.name) {
			http.ServeFileFS(&statusWriter{ResponseWriter: w, status: http.StatusNotFound}, r, p.fsys, p.name)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("404 page not found"))
}

// statusWriter replaces the first status written with its own, so
// http.ServeFileFS can serve a page under 404
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.written = true
		code = w.status
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(w.status)
	}
	return w.ResponseWriter.Write(b)
}
