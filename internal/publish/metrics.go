package publish

import "github.com/keithlinneman/sitedrop/internal/site"

// Metrics is implemented by the metrics package to observe the pipeline.
type Metrics interface {
	// ObservePublish records one publish attempt. outcome is "ok" or a failure Kind.
	ObservePublish(kind site.Kind, outcome string, seconds float64, bytes int64)

	// IncDelete records one delete attempt by outcome.
	IncDelete(outcome string)

	// IncMirrorError counts best-effort mirror failures by operation.
	IncMirrorError(op string)
}

type nopMetrics struct{}

func (nopMetrics) ObservePublish(site.Kind, string, float64, int64) {}
func (nopMetrics) IncDelete(string)                               {}
func (nopMetrics) IncMirrorError(string)                          {}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
