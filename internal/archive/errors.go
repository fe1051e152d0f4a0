package archive

import (
	"errors"
	"fmt"

	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

var (
	// ErrMalformed marks archive content we refuse: corrupt streams, unsafe
	// entry names, special entry types and extraction limits.
	ErrMalformed = errors.New("malformed archive")

	// ErrTooLarge marks an upload over the configured size limit.
	ErrTooLarge = errors.New("upload too large")
)

func malformedf(format string, args ...any) error {
	return xerrors.WithStack(fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...))
}
