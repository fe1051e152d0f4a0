package sitehandler

import (
	"testing"
	"testing/fstest"
)

func siteFixture() fstest.MapFS {
	file := func(s string) *fstest.MapFile { return &fstest.MapFile{Data: []byte(s)} }
	return fstest.MapFS{
		"index.html":            file("home"),
		"about/index.html":      file("about"),
		"contact.html":          file("contact"),
		"css/site.css":          file("css"),
		"img/logo.png":          file("png"),
		"docs/a/b/page.html":    file("deep"),
		"LICENSE":               file("mit"),
		"file with spaces.html": file("spaces"),
		".env":                  file("SECRET=1"),
		".git/config":           file("[core]"),
		".git/index.html":       file("git"),
		"node_modules/.bin/x":   file("x"),
	}
}

func TestResolvePath(t *testing.T) {
	fsys := siteFixture()

	tests := []struct {
		path      string
		wantFile  string
		wantRedir string
		wantOK    bool
	}{
		{"/", "index.html", "", true},
		{"", "index.html", "", true},
		{"/index.html", "index.html", "", true},
		{"/about/", "about/index.html", "", true},
		{"/about", "", "/about/", true},
		{"/contact", "contact.html", "", true},
		{"/contact.html", "contact.html", "", true},
		{"/LICENSE", "LICENSE", "", true},
		{"/css/site.css", "css/site.css", "", true},
		{"/img/logo.png", "img/logo.png", "", true},
		{"/docs/a/b/page.html", "docs/a/b/page.html", "", true},
		{"/file with spaces.html", "file with spaces.html", "", true},
		{"//about//", "about/index.html", "", true},

		{"/missing", "", "", false},
		{"/missing.html", "", "", false},
		{"/css/", "", "", false},
		{"/docs", "", "", false},

		{"/.env", "", "", false},
		{"/.git/config", "", "", false},
		{"/.git/", "", "", false},
		{"/node_modules/.bin/x", "", "", false},
		{"/../etc/passwd", "", "", false},
		{"/css/../index.html", "", "", false},
		{"/./index.html", "", "", false},
		{"/a\\b", "", "", false},
		{"/index.html\x00.png", "", "", false},
	}
	for _, tt := range tests {
		file, redir, ok := resolvePath(tt.path, fsys)
		if file != tt.wantFile || redir != tt.wantRedir || ok != tt.wantOK {
			t.Fatalf("resolvePath(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.path, file, redir, ok, tt.wantFile, tt.wantRedir, tt.wantOK)
		}
	}
}

func TestResolvePath_EmptySite(t *testing.T) {
	for _, p := range []string{"/", "/index.html", "/about"} {
		if _, _, ok := resolvePath(p, fstest.MapFS{}); ok {
			t.Fatalf("resolvePath(%q) found a file in an empty site", p)
		}
	}
}

func TestExistsFile(t *testing.T) {
	fsys := siteFixture()
	for name, want := range map[string]bool{
		"index.html":  true,
		"about":       false,
		"":            false,
		".":           false,
		"/index.html": false,
		"nope.html":   false,
	} {
		if got := existsFile(fsys, name); got != want {
			t.Fatalf("existsFile(%q) = %v, want %v", name, got, want)
		}
	}
}
