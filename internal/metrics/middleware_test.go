package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/sitedrop/internal/httpmw"
)

// labelsOf returns the label set of every sample in a family
func labelsOf(t *testing.T, m *ServerMetrics, name string) []map[string]string {
	t.Helper()
	f := gatherMetric(t, m.reg, name)
	if f == nil {
		t.Fatalf("metric %q not found", name)
	}
	var out []map[string]string
	for _, mm := range f.GetMetric() {
		labels := map[string]string{}
		for _, lp := range mm.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		out = append(out, labels)
	}
	return out
}

// siteRouter mirrors the public server: the metrics middleware wraps a chi
// router whose NotFound handler serves sites
func siteRouter(m *ServerMetrics) http.Handler {
	r := chi.NewRouter()
	r.Delete("/api/sites/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) > len("/site/") && r.URL.Path[:len("/site/")] == "/site/" {
			httpmw.SetRoutePattern(r, "/site/{id}/*")
			_, _ = w.Write([]byte("<html>hello</html>"))
			return
		}
		http.NotFound(w, r)
	})
	return m.Middleware(r)
}

func TestMiddleware_RouteLabels(t *testing.T) {
	m := New()
	h := siteRouter(m)

	for _, p := range []string{"/site/aaaa1111/", "/site/bbbb2222/index.html", "/site/cccc3333/a/b.html"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, http.NoBody))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/sites/aaaa1111", http.NoBody))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-login.php", http.NoBody))

	want := map[string]bool{
		"GET /site/{id}/* 200":                  true,
		"DELETE /api/sites/{id} 403":            true,
		"GET " + httpmw.UnmatchedRoute + " 404": true,
	}
	f := gatherMetric(t, m.reg, "http_requests_total")
	if len(f.GetMetric()) != len(want) {
		t.Fatalf("label sets = %v", labelsOf(t, m, "http_requests_total"))
	}
	for _, mm := range f.GetMetric() {
		l := map[string]string{}
		for _, lp := range mm.GetLabel() {
			l[lp.GetName()] = lp.GetValue()
		}
		key := l["method"] + " " + l["route"] + " " + l["status"]
		if !want[key] {
			t.Fatalf("unexpected series %q", key)
		}
		if key == "GET /site/{id}/* 200" && mm.GetCounter().GetValue() != 3 {
			t.Fatalf("site requests = %f, want 3", mm.GetCounter().GetValue())
		}
	}
}

func TestMiddleware_ErrorCounterOnly5xx(t *testing.T) {
	for _, tt := range []struct {
		status int
		errors bool
	}{
		{http.StatusOK, false},
		{http.StatusRequestEntityTooLarge, false},
		{http.StatusServiceUnavailable, true},
	} {
		m := New()
		h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/upload", http.NoBody))

		got := gatherMetric(t, m.reg, "http_errors_total") != nil
		if got != tt.errors {
			t.Fatalf("status %d: http_errors_total present = %v", tt.status, got)
		}
	}
}

func TestMiddleware_DefaultStatusAndSize(t *testing.T) {
	m := New()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
		_, _ = w.Write([]byte(" world"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Body.String() != "hello world" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if l := labelsOf(t, m, "http_requests_total"); l[0]["status"] != "200" {
		t.Fatalf("status label = %q", l[0]["status"])
	}
	f := gatherMetric(t, m.reg, "http_response_size_bytes")
	if sum := f.GetMetric()[0].GetHistogram().GetSampleSum(); sum != 11 {
		t.Fatalf("response size = %f, want 11", sum)
	}
	if n := histogramCount(t, m.reg, "http_request_duration_seconds"); n != 1 {
		t.Fatalf("duration samples = %d", n)
	}
}

func TestMiddleware_InflightReturnsToZero(t *testing.T) {
	m := New()
	var during float64
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = gatherMetric(t, m.reg, "http_inflight_requests").GetMetric()[0].GetGauge().GetValue()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	after := gatherMetric(t, m.reg, "http_inflight_requests").GetMetric()[0].GetGauge().GetValue()
	if during != 1 || after != 0 {
		t.Fatalf("inflight during=%f after=%f", during, after)
	}
}

func TestCountingWriter_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := &countingWriter{ResponseWriter: rec}
	cw.WriteHeader(http.StatusCreated)
	cw.WriteHeader(http.StatusInternalServerError)
	if cw.status != http.StatusCreated {
		t.Fatalf("status = %d", cw.status)
	}
	if cw.Unwrap() != rec {
		t.Fatal("Unwrap should return the underlying writer")
	}
}

func TestTraceExemplar(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")

	sampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))
	if ex := traceExemplar(sampled); ex["trace_id"] != traceID.String() {
		t.Fatalf("exemplar = %v", ex)
	}

	unsampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID,
	}))
	if ex := traceExemplar(unsampled); ex != nil {
		t.Fatalf("unsampled exemplar = %v", ex)
	}
	if ex := traceExemplar(context.Background()); ex != nil {
		t.Fatalf("no-trace exemplar = %v", ex)
	}
}
