package httpmw

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sitedrop/httpmw"

// responseWriter records status and size for the access log, and times
// the response write in a child span when the request is traced
type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64

	ctx   context.Context
	start time.Time

	span    trace.Span
	began   bool
	blocked time.Duration
	err     error
}

func newResponseWriter(w http.ResponseWriter, r *http.Request, start time.Time) *responseWriter {
	return &responseWriter{ResponseWriter: w, ctx: r.Context(), start: start}
}

// statusCode is what the client saw, handlers that never write send 200
func (rw *responseWriter) statusCode() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *responseWriter) beginWrite() {
	if rw.began {
		return
	}
	rw.began = true
	parent := trace.SpanFromContext(rw.ctx)
	if !parent.IsRecording() {
		return
	}
	ttfb := time.Since(rw.start)
	_, rw.span = parent.TracerProvider().Tracer(tracerName).Start(rw.ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", ttfb.Seconds())),
	)
}

func (rw *responseWriter) endWrite() {
	if rw.span == nil {
		return
	}
	rw.span.SetAttributes(
		attribute.Int("http.response.status_code", rw.statusCode()),
		attribute.Int64("http.response.body.size", rw.bytes),
		attribute.Float64("http.server.write.block_seconds", rw.blocked.Seconds()),
	)
	if rw.err != nil {
		rw.span.RecordError(rw.err)
		rw.span.SetStatus(codes.Error, rw.err.Error())
	}
	rw.span.End()
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.beginWrite()
	if rw.status == 0 {
		rw.status = code
	}
	t := time.Now()
	rw.ResponseWriter.WriteHeader(code)
	rw.blocked += time.Since(t)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.beginWrite()
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	t := time.Now()
	n, err := rw.ResponseWriter.Write(b)
	rw.blocked += time.Since(t)
	rw.bytes += int64(n)
	if err != nil && rw.err == nil {
		rw.err = err
	}
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not implement http.Hijacker")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
