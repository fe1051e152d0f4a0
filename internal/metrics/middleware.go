package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/sitedrop/internal/httpmw"
)

// countingWriter records the first status and the bytes written
type countingWriter struct {
	http.ResponseWriter
	status int
	n      int
}

func (w *countingWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *countingWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.n += n
	return n, err
}

func (w *countingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Middleware records request count, latency and response size labelled by
// method and route pattern. It sits outside the router, so it installs the
// chi route context the router will fill in. Site paths are reported under
// the pattern the site handler sets, never the raw path.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if chi.RouteContext(r.Context()) == nil {
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
		}

		m.http.inflight.Inc()
		defer m.http.inflight.Dec()

		cw := &countingWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)

		status := cw.status
		if status == 0 {
			status = http.StatusOK
		}
		route := httpmw.RoutePattern(r)

		m.http.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		if status >= 500 {
			m.http.errors.WithLabelValues(r.Method, route).Inc()
		}
		observe(r.Context(), m.http.duration.WithLabelValues(r.Method, route), time.Since(start).Seconds())
		m.http.size.WithLabelValues(r.Method, route).Observe(float64(cw.n))
	})
}

// observe attaches the sampled trace id as an exemplar when there is one
func observe(ctx context.Context, o prometheus.Observer, v float64) {
	if ex := traceExemplar(ctx); ex != nil {
		if eo, ok := o.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(v, ex)
			return
		}
	}
	o.Observe(v)
}

func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
