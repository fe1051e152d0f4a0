package httpmw

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/sitedrop/internal/log"
	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

// Recover turns a handler panic into a logged 500. onPanic, when set, runs
// after logging so callers can count panics.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// net/http uses this to abort a response on purpose
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				var err error
				switch v := rec.(type) {
				case error:
					err = xerrors.Wrap(v, "panic")
				default:
					err = xerrors.Newf("panic: %s", fmt.Sprint(v))
				}

				ctx := r.Context()
				L.With(
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(ctx),
				).Error(ctx, err, "httpserver panic recovered", "stack", string(debug.Stack()))

				if onPanic != nil {
					onPanic()
				}

				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
