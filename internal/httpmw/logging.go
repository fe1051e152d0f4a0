package httpmw

import (
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/sitedrop/internal/log"
)

// WithLogger stores a request-scoped logger in the context. It must run
// inside ClientIPWithOptions so client.address is the resolved client, not
// whatever X-Forwarded-For claims.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			reqID := RequestIDFromContext(ctx)
			peer := peerHost(r.RemoteAddr)
			client := ClientIPFromContext(ctx)
			if client == "" {
				client = peer
			}
			scheme := schemeFromRequest(r)

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("request_id", reqID),
					attribute.String("server.address", r.Host),
					attribute.String("client.address", client),
					attribute.String("network.peer.address", peer),
					attribute.String("url.scheme", scheme),
				)
			}

			fields := []any{
				"request_id", reqID,
				"client.address", client,
				"network.peer.address", peer,
				"server.address", r.Host,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", scheme,
			}
			if q := r.URL.RawQuery; q != "" {
				fields = append(fields, "url.query", q)
			}

			ctx = log.WithContext(ctx, base.With(fields...))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessLog writes one record per request once the response is done.
// Probes and page assets are skipped, server errors log at warn.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w, r, start)

			next.ServeHTTP(rw, r)
			rw.endWrite()

			if Quiet(r.URL.Path) {
				return
			}

			var reqBytes int64
			if r.ContentLength > 0 {
				reqBytes = r.ContentLength
			}
			status := rw.statusCode()
			kv := []any{
				"http.response.status_code", status,
				"http.server.request.duration", time.Since(start).Seconds(),
				"http.response.body.size", rw.bytes,
				"http.request.body.size", reqBytes,
				"http.route", RoutePattern(r),
			}

			ctx := r.Context()
			L := log.FromContext(ctx)
			if status >= http.StatusInternalServerError {
				L.Warn(ctx, "http request", kv...)
				return
			}
			L.Info(ctx, "http request", kv...)
		})
	}
}

// Scope tags the request's logger and span with the handler family
func Scope(handler string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := log.WithFields(r.Context(), "handler", handler)
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func peerHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// schemeFromRequest trusts X-Forwarded-Proto only because ClientIPWithOptions
// strips it from requests that did not come through a trusted proxy
func schemeFromRequest(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		return strings.TrimSpace(first)
	}
	if r.URL != nil && r.URL.Scheme != "" {
		return r.URL.Scheme
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
