package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/sitedrop/internal/publish"
	"github.com/keithlinneman/sitedrop/internal/site"
	"github.com/keithlinneman/sitedrop/internal/version"
)

var _ publish.Metrics = (*ServerMetrics)(nil)

func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	f := gatherMetric(t, reg, name)
	if f == nil || len(f.GetMetric()) == 0 {
		t.Fatalf("metric %q has no samples", name)
	}
	return f.GetMetric()[0].GetCounter().GetValue()
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	f := gatherMetric(t, reg, name)
	if f == nil || len(f.GetMetric()) == 0 {
		t.Fatalf("metric %q has no samples", name)
	}
	return f.GetMetric()[0].GetGauge().GetValue()
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	f := gatherMetric(t, reg, name)
	if f == nil || len(f.GetMetric()) == 0 {
		t.Fatalf("metric %q has no samples", name)
	}
	return f.GetMetric()[0].GetHistogram().GetSampleCount()
}

func scrape(t *testing.T, m *ServerMetrics) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec
}

func TestHandler_Scrape(t *testing.T) {
	m := New()
	m.SetStoreUp(true)
	body := scrape(t, m).Body.String()

	for _, name := range []string{
		"go_goroutines",
		"http_inflight_requests",
		"http_panic_total",
		"http_requests_rate_limited_total",
		"profiling_active",
		"sitedrop_upload_size_bytes",
		"sitedrop_store_up 1",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("scrape missing %q", name)
		}
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncHttpPanic()

	if counterValue(t, a.reg, "http_panic_total") != 1 {
		t.Fatal("a not incremented")
	}
	if counterValue(t, b.reg, "http_panic_total") != 0 {
		t.Fatal("registries share state")
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.IncHttpPanic()
	m.IncRateLimitDenied()
	m.IncRateLimitDenied()
	m.IncRateLimitCapacity()

	for name, want := range map[string]float64{
		"http_panic_total":                          1,
		"http_requests_rate_limited_total":          2,
		"http_requests_rate_limited_capacity_total": 1,
	} {
		if got := counterValue(t, m.reg, name); got != want {
			t.Fatalf("%s = %f, want %f", name, got, want)
		}
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	m := New()
	dirty := true
	m.SetBuildInfoFromVersion("sitedrop", "server", version.Info{
		Version:  "0.4.0",
		Commit:   "9f1c2ab",
		BuildId:  "b-17",
		VCSDirty: &dirty,
	})

	f := gatherMetric(t, m.reg, "build_info")
	if f == nil || f.GetMetric()[0].GetGauge().GetValue() != 1 {
		t.Fatal("build_info not set to 1")
	}
	labels := map[string]string{}
	for _, lp := range f.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	if labels["app"] != "sitedrop" || labels["version"] != "0.4.0" || labels["vcs_dirty"] != "true" {
		t.Fatalf("labels = %v", labels)
	}

	m2 := New()
	m2.SetBuildInfoFromVersion("sitedrop", "server", version.Info{})
	for _, lp := range gatherMetric(t, m2.reg, "build_info").GetMetric()[0].GetLabel() {
		if lp.GetName() == "vcs_dirty" && lp.GetValue() != "unknown" {
			t.Fatalf("nil VCSDirty = %q, want unknown", lp.GetValue())
		}
	}
}

func TestObservePublish_Success(t *testing.T) {
	m := New()
	m.ObservePublish(site.KindArchive, "ok", 0.2, 4096)
	m.ObservePublish(site.KindArchive, "ok", 0.3, 8192)

	if got := counterValue(t, m.reg, "sitedrop_publish_total"); got != 2 {
		t.Fatalf("sitedrop_publish_total = %f, want 2", got)
	}
	if got := histogramCount(t, m.reg, "sitedrop_publish_duration_seconds"); got != 2 {
		t.Fatalf("duration count = %d, want 2", got)
	}
	if got := histogramCount(t, m.reg, "sitedrop_upload_size_bytes"); got != 2 {
		t.Fatalf("upload size count = %d, want 2", got)
	}
}

func TestObservePublish_FailureSkipsUploadSize(t *testing.T) {
	m := New()
	m.ObservePublish(site.KindHTML, "too_large", 0.01, 0)
	m.ObservePublish("", "invalid_request", 0.001, 0)

	f := gatherMetric(t, m.reg, "sitedrop_publish_total")
	if f == nil || len(f.GetMetric()) != 2 {
		t.Fatalf("publish series = %v", f)
	}
	foundUnknown := false
	for _, mm := range f.GetMetric() {
		for _, lp := range mm.GetLabel() {
			if lp.GetName() == "kind" && lp.GetValue() == "unknown" {
				foundUnknown = true
			}
		}
	}
	if !foundUnknown {
		t.Fatal("empty kind should be labelled unknown")
	}
	if got := histogramCount(t, m.reg, "sitedrop_upload_size_bytes"); got != 0 {
		t.Fatalf("failed publishes recorded %d upload sizes", got)
	}
}

func TestIncDelete(t *testing.T) {
	m := New()
	m.IncDelete("ok")
	m.IncDelete("ok")
	m.IncDelete("forbidden")

	f := gatherMetric(t, m.reg, "sitedrop_delete_total")
	if f == nil || len(f.GetMetric()) != 2 {
		t.Fatalf("delete series = %v", f)
	}
}

func TestIncMirrorError(t *testing.T) {
	m := New()
	m.IncMirrorError("put")

	if got := counterValue(t, m.reg, "sitedrop_mirror_errors_total"); got != 1 {
		t.Fatalf("sitedrop_mirror_errors_total = %f, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m := New()

	m.SetStoreUp(true)
	m.SetProfilingActive(true)
	if gaugeValue(t, m.reg, "sitedrop_store_up") != 1 || gaugeValue(t, m.reg, "profiling_active") != 1 {
		t.Fatal("gauges not raised")
	}

	m.SetStoreUp(false)
	m.SetProfilingActive(false)
	if gaugeValue(t, m.reg, "sitedrop_store_up") != 0 || gaugeValue(t, m.reg, "profiling_active") != 0 {
		t.Fatal("gauges not lowered")
	}
}
