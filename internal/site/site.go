package site

import (
	"path"
	"strings"
	"time"
)

// Kind is the closed set of uploads we publish.
type Kind string

const (
	KindArchive    Kind = "archive"
	KindHTML       Kind = "html"
	KindStylesheet Kind = "stylesheet"
	KindScript     Kind = "script"
)

// extensions maps lower-cased file extensions to the kind they publish as
var extensions = map[string]Kind{
	".zip":  KindArchive,
	".html": KindHTML,
	".css":  KindStylesheet,
	".js":   KindScript,
}

// SupportedExtensions lists the accepted extensions in a stable order for error messages
func SupportedExtensions() []string {
	return []string{".html", ".css", ".js", ".zip"}
}

// KindFromFilename returns the kind for a filename based on its extension.
// ok is false for anything outside the supported set.
func KindFromFilename(name string) (Kind, bool) {
	k, ok := extensions[strings.ToLower(path.Ext(name))]
	return k, ok
}

// IsArchive reports whether the kind is extracted rather than copied
func (k Kind) IsArchive() bool { return k == KindArchive }

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	switch k {
	case KindArchive, KindHTML, KindStylesheet, KindScript:
		return true
	}
	return false
}

// Site is the persisted record of one published upload. It is never updated,
// only created by a successful publish and removed together with its directory.
type Site struct {
	ID               string    `json:"id" db:"id"`
	OwnerID          string    `json:"owner_id" db:"owner_id"`
	OriginalFilename string    `json:"original_filename" db:"original_filename"`
	CustomAlias      string    `json:"custom_alias,omitempty" db:"custom_alias"`
	Kind             Kind      `json:"kind" db:"kind"`
	Size             int64     `json:"size" db:"size_bytes"`
	SHA256           string    `json:"sha256" db:"sha256"`
	PublishedAt      time.Time `json:"published_at" db:"published_at"`
}

// CleanFilename reduces a client-declared filename to a bare base name.
// Clients (notably on Windows) may send full paths with either separator.
// Dot-prefixed names are refused with "" since hidden paths are never served.
func CleanFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(path.Base(name))
	if name == "/" || strings.HasPrefix(name, ".") || strings.ContainsRune(name, 0) {
		return ""
	}
	return name
}
