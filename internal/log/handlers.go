package log

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// enrichHandler adds the active span's ids to every record, and a stack
// to records at or above stackLevel. A stack captured by xerrors on the
// logged error is preferred over the logging call site.
type enrichHandler struct {
	next       slog.Handler
	stackLevel slog.Level
}

func (h enrichHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h enrichHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if r.Level >= h.stackLevel {
		if pcs := errStack(r); len(pcs) > 0 {
			r.AddAttrs(slog.String("stack", renderPCs(pcs)))
		} else {
			// skip runtime.Callers, captureStack and Handle
			r.AddAttrs(slog.String("stack", captureStack(3)))
		}
	}
	return h.next.Handle(ctx, r)
}

// errStack returns the frames recorded on the record's err attribute
func errStack(r slog.Record) (pcs []uintptr) {
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "err" {
			return true
		}
		if hs, ok := a.Value.Any().(hasStack); ok && hs != nil {
			pcs = hs.StackPCs()
		}
		return false
	})
	return pcs
}

func (h enrichHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return enrichHandler{next: h.next.WithAttrs(attrs), stackLevel: h.stackLevel}
}

func (h enrichHandler) WithGroup(name string) slog.Handler {
	return enrichHandler{next: h.next.WithGroup(name), stackLevel: h.stackLevel}
}
