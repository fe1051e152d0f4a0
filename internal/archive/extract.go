package archive

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/klauspost/compress/zip"

	"github.com/keithlinneman/sitedrop/internal/pathutil"
	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

const (
	// DefaultMaxFileBytes is the largest single extracted file
	DefaultMaxFileBytes int64 = 25 * 1024 * 1024 // 25MB

	// DefaultMaxTotalBytes is the most we extract from one archive
	DefaultMaxTotalBytes int64 = 100 * 1024 * 1024 // 100MB

	// DefaultMaxEntries caps the number of entries in one archive
	DefaultMaxEntries = 10000

	dirPerm  os.FileMode = 0o755
	filePerm os.FileMode = 0o644
)

// Limits bounds what one archive may expand to. Zero fields take defaults.
type Limits struct {
	MaxFileBytes  int64
	MaxTotalBytes int64
	MaxEntries    int
}

func (l Limits) withDefaults() Limits {
	if l.MaxFileBytes <= 0 {
		l.MaxFileBytes = DefaultMaxFileBytes
	}
	if l.MaxTotalBytes <= 0 {
		l.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if l.MaxEntries <= 0 {
		l.MaxEntries = DefaultMaxEntries
	}
	return l
}

// Stats describes what an extraction wrote.
type Stats struct {
	Files int
	Dirs  int
	Bytes int64
}

// ExtractZip expands the ZIP file at src into dest, which must already
// exist. Entries are handled in archive order and each is decompressed as it
// is written, so only one entry is in flight at a time. The first rejected
// entry aborts the whole extraction.
func ExtractZip(ctx context.Context, src, dest string, lim Limits) (Stats, error) {
	lim = lim.withDefaults()
	var st Stats

	dest, err := filepath.Abs(dest)
	if err != nil {
		return st, xerrors.Wrap(err, "resolve destination")
	}

	f, err := os.Open(src)
	if err != nil {
		return st, xerrors.Wrap(err, "open archive")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return st, xerrors.Wrap(err, "stat archive")
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return st, malformedf("read zip directory: %w", err)
	}
	if len(zr.File) > lim.MaxEntries {
		return st, malformedf("%d entries exceeds limit of %d", len(zr.File), lim.MaxEntries)
	}

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		target, err := pathutil.SafeJoin(dest, zf.Name)
		if err != nil {
			return st, malformedf("entry %q: %w", zf.Name, err)
		}

		mode := zf.Mode()
		switch {
		case mode.IsDir() || strings.HasSuffix(zf.Name, "/"):
			if err := os.MkdirAll(target, dirPerm); err != nil {
				if conflicting(err) {
					return st, malformedf("entry %q conflicts with an earlier entry", zf.Name)
				}
				return st, xerrors.Wrapf(err, "create directory %s", zf.Name)
			}
			st.Dirs++

		case mode.IsRegular():
			if target == dest {
				return st, malformedf("file entry %q resolves to the destination root", zf.Name)
			}
			if zf.UncompressedSize64 > uint64(lim.MaxFileBytes) {
				return st, malformedf("entry %q declares %d bytes, limit %d", zf.Name, zf.UncompressedSize64, lim.MaxFileBytes)
			}
			if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
				if conflicting(err) {
					return st, malformedf("entry %q conflicts with an earlier entry", zf.Name)
				}
				return st, xerrors.Wrapf(err, "create parent of %s", zf.Name)
			}

			remaining := lim.MaxTotalBytes - st.Bytes
			n, err := writeEntry(ctx, zf, target, min(lim.MaxFileBytes, remaining))
			if err != nil {
				return st, err
			}
			st.Bytes += n
			st.Files++

		default:
			// symlinks, devices and the like have no place in a static site
			return st, malformedf("entry %q has unsupported type %s", zf.Name, mode.Type())
		}
	}

	return st, nil
}

// writeEntry decompresses one entry to target, allowing at most limit bytes
func writeEntry(ctx context.Context, zf *zip.File, target string, limit int64) (int64, error) {
	rc, err := zf.Open()
	if err != nil {
		return 0, malformedf("open entry %q: %w", zf.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		if conflicting(err) {
			return 0, malformedf("entry %q conflicts with an earlier entry", zf.Name)
		}
		return 0, xerrors.Wrapf(err, "create %s", zf.Name)
	}

	src := &readErrReader{r: &ctxReader{ctx: ctx, r: rc}}
	n, err := io.Copy(out, io.LimitReader(src, limit+1))
	if cerr := out.Close(); err == nil && cerr != nil {
		err = cerr
	}

	switch {
	case src.err != nil && (errors.Is(src.err, context.Canceled) || errors.Is(src.err, context.DeadlineExceeded)):
		return n, src.err
	case src.err != nil:
		// checksum mismatch, truncated or corrupt deflate stream
		return n, malformedf("entry %q: %w", zf.Name, src.err)
	case err != nil:
		return n, xerrors.Wrapf(err, "write %s", zf.Name)
	case n > limit:
		return n, malformedf("entry %q exceeds extraction limit of %d bytes", zf.Name, limit)
	}
	return n, nil
}

// conflicting reports whether err came from an entry landing on a path an
// earlier entry already used as the other type, file versus directory
func conflicting(err error) bool {
	return errors.Is(err, syscall.ENOTDIR) || errors.Is(err, syscall.EISDIR)
}

// readErrReader remembers the first non-EOF read error so io.Copy failures
// can be split into bad input and failed writes.
type readErrReader struct {
	r   io.Reader
	err error
}

func (r *readErrReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF && r.err == nil {
		r.err = err
	}
	return n, err
}

// CopyFile copies the single-file upload at src into dir under filename,
// which must be a bare base name. It never overwrites an existing file.
func CopyFile(ctx context.Context, src, dir, filename string) (int64, error) {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return 0, xerrors.Newf("invalid filename %q", filename)
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, xerrors.Wrap(err, "open upload")
	}
	defer in.Close()

	target := filepath.Join(dir, filename)
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, filePerm)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return 0, xerrors.Newf("%s already exists", filename)
		}
		return 0, xerrors.Wrapf(err, "create %s", filename)
	}

	n, err := io.Copy(out, &ctxReader{ctx: ctx, r: in})
	if cerr := out.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return n, xerrors.Wrapf(err, "copy %s", filename)
	}
	return n, nil
}
