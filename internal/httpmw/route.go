package httpmw

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UnmatchedRoute labels requests that no route claimed
const UnmatchedRoute = "unmatched"

// RoutePattern returns the chi pattern that served r. Raw paths are never
// returned: site ids are unbounded and would explode metric labels.
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return UnmatchedRoute
}

// SetRoutePattern lets a catch-all handler name the route it actually
// served, e.g. the site handler mounted as NotFound.
func SetRoutePattern(r *http.Request, pattern string) {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		rc.RoutePatterns = append(rc.RoutePatterns[:0], pattern)
	}
}

// AnnotateHTTPRoute sets http.route and renames the span once the router
// has resolved the pattern
func AnnotateHTTPRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		span := trace.SpanFromContext(r.Context())
		if !span.IsRecording() {
			return
		}
		route := RoutePattern(r)
		span.SetAttributes(attribute.String("http.route", route))
		span.SetName(r.Method + " " + route)
	})
}
