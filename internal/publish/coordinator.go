package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/sitedrop/internal/archive"
	"github.com/keithlinneman/sitedrop/internal/log"
	"github.com/keithlinneman/sitedrop/internal/pathutil"
	"github.com/keithlinneman/sitedrop/internal/site"
	"github.com/keithlinneman/sitedrop/internal/store"
	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

const siteDirPerm os.FileMode = 0o755

var tracer = otel.Tracer("sitedrop/publish")

// Mirror keeps an off-host copy of original uploads.
type Mirror interface {
	Put(ctx context.Context, s site.Site, path string) error
	Delete(ctx context.Context, s site.Site) error
}

// Request is one upload as received from the transport.
type Request struct {
	OwnerID  string    `validate:"required,max=128"`
	Filename string    `validate:"required,max=255"`
	Alias    string    `validate:"max=255"`
	Body     io.Reader `validate:"-"`
}

// Published is a site record together with its public URL.
type Published struct {
	site.Site
	URL string `json:"url"`
}

// Coordinator runs publishes and deletes against one publication root and
// record store. Safe for concurrent use; there is no global lock.
type Coordinator struct {
	opts     Options
	logger   log.Logger
	store    store.Store
	validate *validator.Validate

	// removeAll is os.RemoveAll outside tests
	removeAll func(string) error
}

// New creates the publication root if needed and returns a Coordinator.
func New(opts Options) (*Coordinator, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.Root, siteDirPerm); err != nil {
		return nil, xerrors.Wrapf(err, "create publication root %s", opts.Root)
	}
	if opts.SpoolDir != "" {
		if err := os.MkdirAll(opts.SpoolDir, 0o700); err != nil {
			return nil, xerrors.Wrapf(err, "create spool dir %s", opts.SpoolDir)
		}
	}
	return &Coordinator{
		opts:      opts,
		logger:    opts.Logger,
		store:     opts.Store,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		removeAll: os.RemoveAll,
	}, nil
}

// Root returns the absolute publication root.
func (c *Coordinator) Root() string { return c.opts.Root }

// Ready reports whether publishing can currently succeed: the store answers
// and the publication root is still a directory.
func (c *Coordinator) Ready(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return xerrors.Wrap(err, "record store unavailable")
	}
	fi, err := os.Stat(c.opts.Root)
	if err != nil {
		return xerrors.Wrap(err, "publication root unavailable")
	}
	if !fi.IsDir() {
		return xerrors.Newf("publication root %s is not a directory", c.opts.Root)
	}
	return nil
}

// Publish validates the upload, reserves its identity, lays its content out
// under the publication root and records it. On any failure nothing new is
// left on disk or in the store, or the error is PartialCleanupFailure.
func (c *Coordinator) Publish(ctx context.Context, req Request) (pub Published, err error) {
	start := time.Now()
	var kind site.Kind
	var size int64

	ctx, span := tracer.Start(ctx, "publish.Publish")
	defer func() {
		endSpan(span, err)
		c.opts.Metrics.ObservePublish(kind, outcome(err), time.Since(start).Seconds(), size)
	}()

	if verr := c.validate.Struct(req); verr != nil {
		return pub, newError(InvalidRequest, describeValidation(verr), verr)
	}

	if req.Body == nil {
		return pub, newError(InvalidRequest, "file is required", nil)
	}

	filename := site.CleanFilename(req.Filename)
	if filename == "" {
		return pub, newError(InvalidRequest, "filename must name a visible file", nil)
	}
	k, ok := site.KindFromFilename(filename)
	if !ok {
		return pub, newError(UnsupportedType,
			"unsupported file type; allowed: "+strings.Join(site.SupportedExtensions(), ", "), nil)
	}
	kind = k

	id, rerr := site.CandidateID(req.Alias, c.opts.Rand)
	if rerr != nil {
		return pub, newError(ExtractionFailed, "", xerrors.Wrap(rerr, "generate site id"))
	}
	span.SetAttributes(
		attribute.String("site.id", id),
		attribute.String("site.kind", string(kind)),
		attribute.Bool("site.alias", req.Alias != ""),
	)

	dir, perr := c.reserve(ctx, id)
	if perr != nil {
		return pub, perr
	}

	rec := site.Site{
		ID:               id,
		OwnerID:          req.OwnerID,
		OriginalFilename: filename,
		CustomAlias:      strings.TrimSpace(req.Alias),
		Kind:             kind,
	}
	rec, perr = c.populateAndCommit(ctx, rec, dir, req.Body)
	if perr != nil {
		return pub, c.rollback(ctx, dir, perr)
	}
	size = rec.Size

	c.logger.Info(ctx, "site published",
		"site_id", rec.ID,
		"owner_id", rec.OwnerID,
		"kind", rec.Kind,
		"bytes", rec.Size,
		"sha256", rec.SHA256,
	)
	return c.published(rec), nil
}

// reserve claims id by creating its directory. Only one caller can succeed
// for a given id; everyone else gets IdentityConflict.
func (c *Coordinator) reserve(ctx context.Context, id string) (string, *Error) {
	_, span := tracer.Start(ctx, "publish.reserve")
	defer span.End()

	// an alias with no usable characters would name the root itself
	if id == "" {
		return "", newError(IdentityConflict, "custom link has no usable characters", nil)
	}
	dir, err := pathutil.SafeJoin(c.opts.Root, id)
	if err != nil || dir == c.opts.Root {
		return "", newError(IdentityConflict, "custom link is not usable", err)
	}

	if err := os.Mkdir(dir, siteDirPerm); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", newError(IdentityConflict, fmt.Sprintf("site %q already exists", id), nil)
		}
		return "", newError(ExtractionFailed, "", xerrors.Wrapf(err, "reserve %s", id))
	}
	return dir, nil
}

// populateAndCommit fills the reserved dir and inserts the record. The
// caller rolls the directory back when it returns an error.
func (c *Coordinator) populateAndCommit(ctx context.Context, rec site.Site, dir string, body io.Reader) (site.Site, *Error) {
	// a record without a directory means an earlier delete went wrong; do not
	// publish over it
	exists, err := c.store.Exists(ctx, rec.ID)
	if err != nil {
		return rec, newError(StoreUnavailable, "", err)
	}
	if exists {
		c.logger.Warn(ctx, "record found for unreserved site id", "site_id", rec.ID)
		return rec, newError(IdentityConflict, fmt.Sprintf("site %q already exists", rec.ID), nil)
	}

	spoolCtx, span := tracer.Start(ctx, "publish.spool")
	sp, err := archive.Spool(spoolCtx, c.opts.SpoolDir, body, c.opts.MaxUploadBytes)
	endSpan(span, err)
	if err != nil {
		if errors.Is(err, archive.ErrTooLarge) {
			return rec, newError(TooLarge, fmt.Sprintf("upload exceeds %d bytes", c.opts.MaxUploadBytes), err)
		}
		return rec, newError(ExtractionFailed, "", err)
	}
	defer func() {
		if rerr := sp.Remove(); rerr != nil {
			c.logger.Warn(ctx, "failed to remove spooled upload", "path", sp.Path, "error", rerr)
		}
	}()
	rec.Size = sp.Size
	rec.SHA256 = sp.SHA256

	if perr := c.populate(ctx, rec, dir, sp.Path); perr != nil {
		return rec, perr
	}

	rec.PublishedAt = c.opts.Now().UTC()
	commitCtx, span := tracer.Start(ctx, "publish.commit")
	err = c.store.Insert(commitCtx, rec)
	endSpan(span, err)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return rec, newError(IdentityConflict, fmt.Sprintf("site %q already exists", rec.ID), err)
		}
		return rec, newError(StoreUnavailable, "", err)
	}

	c.mirrorPut(ctx, rec, sp.Path)
	return rec, nil
}

// populate extracts or copies the spooled upload into dir
func (c *Coordinator) populate(ctx context.Context, rec site.Site, dir, spooled string) *Error {
	if !rec.Kind.IsArchive() {
		copyCtx, span := tracer.Start(ctx, "publish.copy")
		_, err := archive.CopyFile(copyCtx, spooled, dir, rec.OriginalFilename)
		endSpan(span, err)
		if err != nil {
			return newError(ExtractionFailed, "", err)
		}
		return nil
	}

	exCtx, span := tracer.Start(ctx, "publish.extract")
	st, err := archive.ExtractZip(exCtx, spooled, dir, c.opts.Limits)
	span.SetAttributes(
		attribute.Int("archive.files", st.Files),
		attribute.Int("archive.dirs", st.Dirs),
		attribute.Int64("archive.bytes", st.Bytes),
	)
	endSpan(span, err)
	if err != nil {
		if errors.Is(err, archive.ErrMalformed) {
			return newError(MalformedArchive, "archive could not be extracted safely", err)
		}
		return newError(ExtractionFailed, "", err)
	}

	_, span = tracer.Start(ctx, "publish.normalize")
	changed, err := archive.Normalize(dir)
	span.SetAttributes(attribute.Bool("archive.unwrapped", changed))
	endSpan(span, err)
	if err != nil {
		return newError(ExtractionFailed, "", err)
	}
	return nil
}

// rollback removes a reserved directory after a failed publish. It runs even
// when ctx is already cancelled.
func (c *Coordinator) rollback(ctx context.Context, dir string, cause *Error) error {
	ctx = context.WithoutCancel(ctx)
	if err := c.removeAll(dir); err != nil {
		c.logger.Error(ctx, err, "rollback left site directory behind",
			"dir", dir,
			"cause_kind", cause.Kind,
		)
		return newError(PartialCleanupFailure, "", xerrors.Join(cause, err))
	}
	c.logger.Debug(ctx, "publish rolled back", "dir", dir, "kind", cause.Kind)
	return cause
}

// Delete removes a site owned by ownerID: directory first, then record.
func (c *Coordinator) Delete(ctx context.Context, id, ownerID string) (err error) {
	ctx, span := tracer.Start(ctx, "publish.Delete", trace.WithAttributes(attribute.String("site.id", id)))
	defer func() {
		endSpan(span, err)
		c.opts.Metrics.IncDelete(outcome(err))
	}()

	rec, perr := c.lookup(ctx, id, ownerID)
	if perr != nil {
		return perr
	}

	dir, jerr := pathutil.SafeJoin(c.opts.Root, rec.ID)
	if jerr != nil || dir == c.opts.Root {
		return newError(PartialCleanupFailure, "", xerrors.Newf("record %q does not map to a site directory", rec.ID))
	}

	// once removal starts both halves run to completion
	ctx = context.WithoutCancel(ctx)

	dirErr := c.removeAll(dir)
	recErr := c.store.Delete(ctx, rec.ID, ownerID)
	if errors.Is(recErr, store.ErrNotFound) {
		// a concurrent delete got there first
		recErr = nil
	}

	if dirErr != nil || recErr != nil {
		cause := xerrors.Join(dirErr, recErr)
		c.logger.Error(ctx, cause, "site delete left directory and record out of step",
			"site_id", rec.ID,
			"dir_removed", dirErr == nil,
			"record_removed", recErr == nil,
		)
		return newError(PartialCleanupFailure, "", cause)
	}

	c.mirrorDelete(ctx, rec)
	c.logger.Info(ctx, "site deleted", "site_id", rec.ID, "owner_id", ownerID)
	return nil
}

// Get returns one of ownerID's sites.
func (c *Coordinator) Get(ctx context.Context, id, ownerID string) (Published, error) {
	rec, perr := c.lookup(ctx, id, ownerID)
	if perr != nil {
		return Published{}, perr
	}
	return c.published(rec), nil
}

// List returns ownerID's sites, newest first.
func (c *Coordinator) List(ctx context.Context, ownerID string) ([]Published, error) {
	if ownerID == "" {
		return nil, newError(InvalidRequest, "owner is required", nil)
	}
	recs, err := c.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, newError(StoreUnavailable, "", err)
	}
	out := make([]Published, 0, len(recs))
	for _, r := range recs {
		out = append(out, c.published(r))
	}
	return out, nil
}

// lookup fetches a record and checks ownership
func (c *Coordinator) lookup(ctx context.Context, id, ownerID string) (site.Site, *Error) {
	if !site.ValidID(id) {
		return site.Site{}, newError(NotFound, "site not found", nil)
	}
	rec, err := c.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return site.Site{}, newError(NotFound, "site not found", nil)
	}
	if err != nil {
		return site.Site{}, newError(StoreUnavailable, "", err)
	}
	if ownerID == "" || rec.OwnerID != ownerID {
		return site.Site{}, newError(Forbidden, "site belongs to another user", nil)
	}
	return rec, nil
}

func (c *Coordinator) published(rec site.Site) Published {
	return Published{Site: rec, URL: site.URLFor(c.opts.URLPrefix, rec)}
}

func (c *Coordinator) mirrorPut(ctx context.Context, rec site.Site, path string) {
	if c.opts.Mirror == nil {
		return
	}
	if err := c.opts.Mirror.Put(ctx, rec, path); err != nil {
		c.opts.Metrics.IncMirrorError("put")
		c.logger.Warn(ctx, "mirror upload failed", "site_id", rec.ID, "error", err)
	}
}

func (c *Coordinator) mirrorDelete(ctx context.Context, rec site.Site) {
	if c.opts.Mirror == nil {
		return
	}
	if err := c.opts.Mirror.Delete(ctx, rec); err != nil {
		c.opts.Metrics.IncMirrorError("delete")
		c.logger.Warn(ctx, "mirror delete failed", "site_id", rec.ID, "error", err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// requestFields names Request fields the way clients know them
var requestFields = map[string]string{
	"OwnerID":  "owner",
	"Filename": "filename",
	"Alias":    "custom link",
}

// describeValidation renders validator errors as one client-facing line
func describeValidation(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return "invalid request"
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		name, ok := requestFields[fe.Field()]
		if !ok {
			name = strings.ToLower(fe.Field())
		}
		switch fe.Tag() {
		case "required":
			parts = append(parts, name+" is required")
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", name, fe.Param()))
		default:
			parts = append(parts, name+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}
