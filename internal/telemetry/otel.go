package telemetry

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ServiceName is reported as the otel service.name resource attribute.
const ServiceName = "codeplayground"

type options struct {
	version    string
	instanceID string
	writer     io.Writer
	pretty     bool

	metricWriter   io.Writer
	metricInterval time.Duration
}

// Option configures Setup.
type Option func(*options)

// WithVersion sets service.version.
func WithVersion(v string) Option { return func(o *options) { o.version = v } }

// WithInstanceID sets service.instance.id.
func WithInstanceID(id string) Option { return func(o *options) { o.instanceID = id } }

// WithWriter sends exported spans to w instead of stdout.
func WithWriter(w io.Writer) Option { return func(o *options) { o.writer = w } }

// WithPrettyPrint indents exported spans.
func WithPrettyPrint() Option { return func(o *options) { o.pretty = true } }

// WithMetricsWriter also installs a meter provider exporting to w.
func WithMetricsWriter(w io.Writer) Option { return func(o *options) { o.metricWriter = w } }

// WithMetricInterval sets the export interval of the meter provider.
func WithMetricInterval(d time.Duration) Option { return func(o *options) { o.metricInterval = d } }

// Setup installs a global tracer provider exporting spans through the stdout
// exporter and, with WithMetricsWriter, a meter provider. The returned
// shutdown flushes and releases both.
func Setup(ctx context.Context, opts ...Option) (shutdown func(context.Context) error, err error) {
	o := &options{writer: os.Stdout, metricInterval: 30 * time.Second}
	for _, opt := range opts {
		opt(o)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(o.version),
		semconv.ServiceInstanceID(o.instanceID),
	)

	var shutdownFuncs []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	exOpts := []stdouttrace.Option{stdouttrace.WithWriter(o.writer)}
	if o.pretty {
		exOpts = append(exOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exOpts...)
	if err != nil {
		return nil, errors.Join(err, shutdown(ctx))
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter, trace.WithBatchTimeout(time.Second)),
		trace.WithResource(res),
	)
	shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
	otel.SetTracerProvider(tp)

	if o.metricWriter != nil {
		metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(o.metricWriter))
		if err != nil {
			return nil, errors.Join(err, shutdown(ctx))
		}
		mp := metric.NewMeterProvider(
			metric.WithReader(metric.NewPeriodicReader(metricExporter, metric.WithInterval(o.metricInterval))),
			metric.WithResource(res),
		)
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
		otel.SetMeterProvider(mp)
	}
	return shutdown, nil
}
