package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

// Spooled is an upload written to a temporary file.
type Spooled struct {
	Path   string
	Size   int64
	SHA256 string
}

// Remove deletes the temporary file. Safe to call more than once.
func (s *Spooled) Remove() error {
	if s == nil || s.Path == "" {
		return nil
	}
	err := os.Remove(s.Path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Spool copies r into a new temp file under dir (os.TempDir when empty),
// hashing as it goes. More than maxBytes of input fails with ErrTooLarge;
// maxBytes <= 0 means unlimited. The temp file is removed on any failure.
func Spool(ctx context.Context, dir string, r io.Reader, maxBytes int64) (*Spooled, error) {
	f, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return nil, xerrors.Wrap(err, "create spool file")
	}
	sp := &Spooled{Path: f.Name()}

	src := io.Reader(&ctxReader{ctx: ctx, r: r})
	if maxBytes > 0 {
		src = io.LimitReader(src, maxBytes+1)
	}

	written, hash, err := copyWithHash(f, src)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		_ = sp.Remove()
		return nil, xerrors.Wrap(err, "spool upload")
	}
	if maxBytes > 0 && written > maxBytes {
		_ = sp.Remove()
		return nil, xerrors.WithStack(fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes))
	}

	sp.Size = written
	sp.SHA256 = hash
	return sp, nil
}

// copyWithHash copies from src to dst while computing SHA256
func copyWithHash(dst io.Writer, src io.Reader) (written int64, hash string, err error) {
	h := sha256.New()
	w := io.MultiWriter(dst, h)

	written, err = io.Copy(w, src)
	if err != nil {
		return written, "", err
	}

	return written, hex.EncodeToString(h.Sum(nil)), nil
}

// ctxReader stops reading once ctx is done, so a disconnected client or a
// shutdown aborts long copies between chunks.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
