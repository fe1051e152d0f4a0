package publish

import (
	"io"
	"path/filepath"
	"time"

	"github.com/keithlinneman/sitedrop/internal/archive"
	"github.com/keithlinneman/sitedrop/internal/log"
	"github.com/keithlinneman/sitedrop/internal/store"
	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

const (
	// DefaultMaxUploadBytes is the largest upload accepted
	DefaultMaxUploadBytes int64 = 10 * 1024 * 1024 // 10MB

	// DefaultURLPrefix is where published sites are served from
	DefaultURLPrefix = "/site"
)

type Options struct {
	Logger log.Logger

	// Store holds the site records. Required.
	Store store.Store

	// Root is the publication root; each site is the directory Root/{id}.
	// Created when missing. Required.
	Root string

	// SpoolDir receives uploads while they are processed. Empty uses os.TempDir.
	SpoolDir string

	// URLPrefix is the public path sites are served under.
	URLPrefix string

	// MaxUploadBytes caps the raw upload. Zero uses DefaultMaxUploadBytes.
	MaxUploadBytes int64

	// Limits bounds archive extraction. Zero fields use the archive defaults.
	Limits archive.Limits

	// Mirror optionally keeps a copy of each original upload. Best-effort.
	Mirror Mirror

	Metrics Metrics

	// Rand supplies random site ids. Nil uses crypto/rand.
	Rand io.Reader

	// Now is the clock for PublishedAt. Nil uses time.Now.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.URLPrefix == "" {
		o.URLPrefix = DefaultURLPrefix
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

func (o *Options) validate() error {
	if o.Store == nil {
		return xerrors.New("publish: Store is required")
	}
	if o.Root == "" {
		return xerrors.New("publish: Root is required")
	}
	abs, err := filepath.Abs(o.Root)
	if err != nil {
		return xerrors.Wrapf(err, "publish: resolve root %s", o.Root)
	}
	o.Root = abs
	return nil
}
