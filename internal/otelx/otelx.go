// Package otelx installs the global OpenTelemetry tracer provider.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/keithlinneman/sitedrop/internal/xerrors"
)

// exporter creation blocks without a deadline, the collector is local so a
// few seconds is plenty
const dialTimeout = 3 * time.Second

type Options struct {
	Enabled   bool
	Endpoint  string
	Insecure  bool
	Sample    float64
	Service   string
	Component string
	Version   string
}

// Init installs the provider and propagator and returns the provider's
// shutdown. With tracing disabled, or when the exporter cannot be built, an
// SDK provider without an exporter is installed instead: spans still get
// ids, so log lines and the X-Trace-Id header correlate. The returned
// shutdown is never nil.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	if !o.Enabled {
		return installLocal(), nil
	}

	exp, err := newExporter(ctx, o)
	if err != nil {
		return installLocal(), xerrors.Wrapf(err, "otlp exporter endpoint=%s", o.Endpoint)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(o.Sample)),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(newResource(ctx, o)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func installLocal() func(context.Context) error {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

func newExporter(ctx context.Context, o Options) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(o.Endpoint)}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return otlptracegrpc.New(dialCtx, opts...)
}

// sampler honours an upstream decision and samples new roots at ratio,
// clamped to [0, 1]
func sampler(ratio float64) sdktrace.Sampler {
	ratio = min(max(ratio, 0), 1)
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// newResource names the service app.component. Detector failures are
// partial results, whatever was detected is kept.
func newResource(ctx context.Context, o Options) *resource.Resource {
	name := o.Service
	if o.Component != "" {
		name += "." + o.Component
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(name),
		semconv.ServiceVersionKey.String(o.Version),
	}
	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(attrs...),
	)
	if res == nil {
		return resource.NewSchemaless(attrs...)
	}
	return res
}
