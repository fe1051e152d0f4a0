package publish

import (
	"errors"
	"strings"

	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

// Kind classifies a publish or delete failure.
type Kind string

const (
	UnsupportedType       Kind = "unsupported_type"
	InvalidRequest        Kind = "invalid_request"
	TooLarge              Kind = "too_large"
	IdentityConflict      Kind = "identity_conflict"
	MalformedArchive      Kind = "malformed_archive"
	ExtractionFailed      Kind = "extraction_failed"
	StoreUnavailable      Kind = "store_unavailable"
	NotFound              Kind = "not_found"
	Forbidden             Kind = "forbidden"
	PartialCleanupFailure Kind = "partial_cleanup_failure"
)

// Public reports whether the failure is about the caller's request, so its
// detail may be returned to the client. Operational failures are not.
func (k Kind) Public() bool {
	switch k {
	case UnsupportedType, InvalidRequest, TooLarge, IdentityConflict, MalformedArchive, NotFound, Forbidden:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrUnsupportedType       = &Error{Kind: UnsupportedType}
	ErrInvalidRequest        = &Error{Kind: InvalidRequest}
	ErrTooLarge              = &Error{Kind: TooLarge}
	ErrIdentityConflict      = &Error{Kind: IdentityConflict}
	ErrMalformedArchive      = &Error{Kind: MalformedArchive}
	ErrExtractionFailed      = &Error{Kind: ExtractionFailed}
	ErrStoreUnavailable      = &Error{Kind: StoreUnavailable}
	ErrNotFound              = &Error{Kind: NotFound}
	ErrForbidden             = &Error{Kind: Forbidden}
	ErrPartialCleanupFailure = &Error{Kind: PartialCleanupFailure}
)

// Error is the only error type returned by Coordinator methods.
type Error struct {
	Kind Kind

	// Detail is a short client-facing description. Empty for sentinels.
	Detail string

	cause error
}

func newError(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: xerrors.EnsureTrace(cause)}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("publish: ")
	b.WriteString(string(e.Kind))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// ErrorKind lets the logger tag records with the failure kind.
func (e *Error) ErrorKind() string { return string(e.Kind) }

// Is matches any *Error with the same Kind, so callers can compare against
// the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when
// err did not come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
