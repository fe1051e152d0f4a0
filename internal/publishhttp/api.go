// Package publishhttp exposes the publication pipeline over HTTP.
//
// Authentication happens upstream: a trusted proxy authenticates the user
// and forwards their id in a header (X-Owner-Id by default). Requests
// without it are rejected before any work is done.
package publishhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/sitedrop/internal/httpmw"
	"github.com/keithlinneman/sitedrop/internal/log"
	"github.com/keithlinneman/sitedrop/internal/prof"
	"github.com/keithlinneman/sitedrop/internal/publish"
)

const (
	// DefaultOwnerHeader carries the authenticated user id
	DefaultOwnerHeader = "X-Owner-Id"

	// multipart parts beyond this stay on disk while parsing
	multipartMemory = 1 << 20

	// room for multipart framing and the customLink field on top of the file
	multipartOverhead = 1 << 20

	fileField  = "file"
	aliasField = "customLink"
)

// Publisher is the slice of the coordinator the API drives.
type Publisher interface {
	Publish(ctx context.Context, req publish.Request) (publish.Published, error)
	Delete(ctx context.Context, id, ownerID string) error
	Get(ctx context.Context, id, ownerID string) (publish.Published, error)
	List(ctx context.Context, ownerID string) ([]publish.Published, error)
}

type Options struct {
	Logger    log.Logger
	Publisher Publisher

	// OwnerHeader names the trusted identity header. Default X-Owner-Id.
	OwnerHeader string

	// MaxUploadBytes is the largest file accepted; the request body may
	// exceed it by the multipart overhead. Default publish.DefaultMaxUploadBytes.
	MaxUploadBytes int64

	// MutationMW wraps the upload and delete routes, typically a stricter
	// per-ip rate limiter
	MutationMW func(http.Handler) http.Handler
}

// API implements httpserver route registration for the publish endpoints.
type API struct {
	pub         Publisher
	logger      log.Logger
	ownerHeader string
	maxBody     int64
	mutationMW  func(http.Handler) http.Handler
}

// NewAPI creates the publish API handler
func NewAPI(opts Options) (*API, error) {
	if opts.Publisher == nil {
		return nil, errors.New("publishhttp: Publisher is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.OwnerHeader == "" {
		opts.OwnerHeader = DefaultOwnerHeader
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = publish.DefaultMaxUploadBytes
	}
	return &API{
		pub:         opts.Publisher,
		logger:      opts.Logger,
		ownerHeader: opts.OwnerHeader,
		maxBody:     opts.MaxUploadBytes + multipartOverhead,
		mutationMW:  opts.MutationMW,
	}, nil
}

// MaxRequestBytes is the largest request body the API accepts.
func (api *API) MaxRequestBytes() int64 { return api.maxBody }

// RegisterRoutes attaches the publish endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(httpmw.Scope("publish"))
		r.Use(api.requireOwner)

		r.Get("/sites", api.HandleList)
		r.Get("/sites/{id}", api.HandleGet)

		r.Group(func(r chi.Router) {
			if api.mutationMW != nil {
				r.Use(api.mutationMW)
			}
			r.Post("/upload", api.HandleUpload)
			r.Delete("/sites/{id}", api.HandleDelete)
		})
	})
}

type ownerKey struct{}

// requireOwner rejects requests without the trusted identity header
func (api *API) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(api.ownerHeader))
		if owner == "" {
			api.writeJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey{}, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerFrom(ctx context.Context) string {
	s, _ := ctx.Value(ownerKey{}).(string)
	return s
}

type errorResponse struct {
	Error string       `json:"error"`
	Kind  publish.Kind `json:"kind,omitempty"`
}

// UploadResponse is returned by a successful upload
type UploadResponse struct {
	Success bool              `json:"success"`
	Site    publish.Published `json:"site"`
	URL     string            `json:"url"`
}

// HandleUpload accepts a multipart upload with a "file" part and an
// optional "customLink" field.
func (api *API) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.ContentLength > api.maxBody {
		api.writeJSON(ctx, w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload too large", Kind: publish.TooLarge})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, api.maxBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			api.writeJSON(ctx, w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload too large", Kind: publish.TooLarge})
			return
		}
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "expected multipart/form-data upload", Kind: publish.InvalidRequest})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, hdr, err := r.FormFile(fileField)
	if err != nil {
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "no file uploaded", Kind: publish.InvalidRequest})
		return
	}
	defer file.Close()

	var pub publish.Published
	prof.Do(ctx, "publish", func(ctx context.Context) {
		pub, err = api.pub.Publish(ctx, publish.Request{
			OwnerID:  ownerFrom(ctx),
			Filename: hdr.Filename,
			Alias:    r.FormValue(aliasField),
			Body:     file,
		})
	})
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}

	api.writeJSON(ctx, w, http.StatusCreated, UploadResponse{Success: true, Site: pub, URL: pub.URL})
}

// HandleList returns the caller's sites, newest first
func (api *API) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sites, err := api.pub.List(ctx, ownerFrom(ctx))
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, sites)
}

// HandleGet returns one of the caller's sites
func (api *API) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pub, err := api.pub.Get(ctx, chi.URLParam(r, "id"), ownerFrom(ctx))
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, pub)
}

// HandleDelete removes one of the caller's sites
func (api *API) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := api.pub.Delete(ctx, chi.URLParam(r, "id"), ownerFrom(ctx)); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, map[string]bool{"success": true})
}

// StatusFor maps a failure kind to its HTTP status
func StatusFor(kind publish.Kind) int {
	switch kind {
	case publish.UnsupportedType:
		return http.StatusUnsupportedMediaType
	case publish.InvalidRequest:
		return http.StatusBadRequest
	case publish.TooLarge:
		return http.StatusRequestEntityTooLarge
	case publish.IdentityConflict:
		return http.StatusConflict
	case publish.MalformedArchive:
		return http.StatusUnprocessableEntity
	case publish.NotFound:
		return http.StatusNotFound
	case publish.Forbidden:
		return http.StatusForbidden
	case publish.StoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports client mistakes with their detail and everything else
// generically, logging the cause
func (api *API) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := publish.KindOf(err)
	status := StatusFor(kind)

	if kind.Public() {
		msg := http.StatusText(status)
		var pe *publish.Error
		if errors.As(err, &pe) && pe.Detail != "" {
			msg = pe.Detail
		}
		log.FromContext(ctx).Debug(ctx, "publish request rejected", "kind", kind, "status", status)
		api.writeJSON(ctx, w, status, errorResponse{Error: msg, Kind: kind})
		return
	}

	api.logger.Error(ctx, err, "publish request failed", "kind", kind, "status", status)
	msg := "internal error"
	if status == http.StatusServiceUnavailable {
		msg = "service temporarily unavailable"
	}
	api.writeJSON(ctx, w, status, errorResponse{Error: msg})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
