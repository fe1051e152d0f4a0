// Package metrics owns the server's Prometheus registry. Every label is
// bounded: HTTP series use the method, the route pattern and the status,
// publish series use the upload kind and the outcome.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/sitedrop/internal/site"
	"github.com/keithlinneman/sitedrop/internal/version"
)

type httpMetrics struct {
	inflight prometheus.Gauge
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	size     *prometheus.HistogramVec
	panics   prometheus.Counter
}

type publishMetrics struct {
	attempts     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	uploadBytes  prometheus.Histogram
	deletes      *prometheus.CounterVec
	mirrorErrors *prometheus.CounterVec
	storeUp      prometheus.Gauge
}

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	http    httpMetrics
	publish publishMetrics

	limiterDenied   prometheus.Counter
	limiterFull     prometheus.Counter
	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge
}

// New builds a private registry so tests and multiple servers never share
// series. Go runtime and process collectors are included.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	route := []string{"method", "route"}

	return &ServerMetrics{
		reg:     reg,
		handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}),
		http: httpMetrics{
			inflight: f.NewGauge(prometheus.GaugeOpts{
				Name: "http_inflight_requests",
				Help: "Requests currently being served",
			}),
			requests: f.NewCounterVec(prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Requests by method, route pattern and status",
			}, []string{"method", "route", "status"}),
			errors: f.NewCounterVec(prometheus.CounterOpts{
				Name: "http_errors_total",
				Help: "5xx responses by method and route pattern",
			}, route),
			duration: f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Request latency by method and route pattern",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			}, route),
			size: f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "Response body size by method and route pattern",
				Buckets: prometheus.ExponentialBuckets(256, 4, 10), // 256B .. 64MB
			}, route),
			panics: f.NewCounter(prometheus.CounterOpts{
				Name: "http_panic_total",
				Help: "Handler panics recovered by the server",
			}),
		},
		publish: publishMetrics{
			attempts: f.NewCounterVec(prometheus.CounterOpts{
				Name: "sitedrop_publish_total",
				Help: "Publish attempts by upload kind and outcome, ok or the failure kind",
			}, []string{"kind", "outcome"}),
			duration: f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "sitedrop_publish_duration_seconds",
				Help:    "Time to spool, extract and commit one upload",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			}, []string{"kind"}),
			uploadBytes: f.NewHistogram(prometheus.HistogramOpts{
				Name:    "sitedrop_upload_size_bytes",
				Help:    "Size of accepted uploads as received",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8), // 1KB .. 16MB
			}),
			deletes: f.NewCounterVec(prometheus.CounterOpts{
				Name: "sitedrop_delete_total",
				Help: "Site deletes by outcome",
			}, []string{"outcome"}),
			mirrorErrors: f.NewCounterVec(prometheus.CounterOpts{
				Name: "sitedrop_mirror_errors_total",
				Help: "Upload mirror failures by operation, publishing continues regardless",
			}, []string{"op"}),
			storeUp: f.NewGauge(prometheus.GaugeOpts{
				Name: "sitedrop_store_up",
				Help: "1 when the last readiness ping of the record store succeeded",
			}),
		},
		limiterDenied: f.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Requests rejected with 429",
		}),
		limiterFull: f.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "New clients rejected because the limiter tracked its maximum",
		}),
		buildInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata, always 1",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "1 when continuous profiling started",
		}),
	}
}

// Handler serves the registry in the OpenMetrics format when asked for it
func (m *ServerMetrics) Handler() http.Handler { return m.handler }

func (m *ServerMetrics) IncHttpPanic() { m.http.panics.Inc() }

func (m *ServerMetrics) IncRateLimitDenied() { m.limiterDenied.Inc() }

func (m *ServerMetrics) IncRateLimitCapacity() { m.limiterFull.Inc() }

func (m *ServerMetrics) SetProfilingActive(active bool) { setBool(m.profilingActive, active) }

func (m *ServerMetrics) SetStoreUp(up bool) { setBool(m.publish.storeUp, up) }

func setBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

// SetBuildInfoFromVersion is called once at startup
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.WithLabelValues(
		app, component, vi.Version, vi.Commit, vi.CommitDate,
		vi.BuildId, vi.BuildDate, dirty, vi.GoVersion,
	).Set(1)
}

// ObservePublish records one publish attempt. Upload size only counts
// for uploads that were published.
func (m *ServerMetrics) ObservePublish(kind site.Kind, outcome string, seconds float64, bytes int64) {
	k := string(kind)
	if k == "" {
		k = "unknown"
	}
	m.publish.attempts.WithLabelValues(k, outcome).Inc()
	m.publish.duration.WithLabelValues(k).Observe(seconds)
	if outcome == "ok" && bytes > 0 {
		m.publish.uploadBytes.Observe(float64(bytes))
	}
}

func (m *ServerMetrics) IncDelete(outcome string) { m.publish.deletes.WithLabelValues(outcome).Inc() }

func (m *ServerMetrics) IncMirrorError(op string) { m.publish.mirrorErrors.WithLabelValues(op).Inc() }
