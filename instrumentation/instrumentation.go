package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/otlptranslator"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "adminguard"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	// ExporterPrometheus exposes metrics through a Prometheus registry
	ExporterPrometheus = "prometheus"

	// ExporterNone keeps the SDK meter provider without any reader
	ExporterNone = "none"

	scopePrefix = "github.com/folio-works/adminguard/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service reported in the resource
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used.
	Enabled bool

	// MetricsExporter selects the metric reader: "prometheus" or "none".
	// Default: "none"
	MetricsExporter string

	// Registerer receives the Prometheus collector when MetricsExporter is
	// "prometheus". Default: prometheus.DefaultRegisterer
	Registerer prometheus.Registerer

	// SpanProcessors are attached to the SDK tracer provider.
	// Without processors spans are sampled but never exported.
	SpanProcessors []sdktrace.SpanProcessor

	// LogClientIPs controls whether client IP addresses are attached to spans.
	// Client IPs may be personal data in some jurisdictions.
	LogClientIPs bool

	// Resource allows custom resource attributes.
	// If nil, a resource is created with service name and version.
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// registered during New only
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}
	if config.MetricsExporter == "" {
		config.MetricsExporter = ExporterNone
	}

	var res *resource.Resource
	var err error
	if config.Resource != nil {
		res = config.Resource
	} else {
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// initializeProviders builds the SDK meter and tracer providers
func (i *Instrumentation) initializeProviders() error {
	var readerOpts []sdkmetric.Option
	readerOpts = append(readerOpts, sdkmetric.WithResource(i.resource))

	switch i.config.MetricsExporter {
	case ExporterPrometheus:
		// classic underscore names, not dotted UTF-8 ones
		promOpts := []otelprom.Option{
			otelprom.WithTranslationStrategy(otlptranslator.UnderscoreEscapingWithSuffixes),
		}
		if i.config.Registerer != nil {
			promOpts = append(promOpts, otelprom.WithRegisterer(i.config.Registerer))
		}
		exporter, err := otelprom.New(promOpts...)
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		readerOpts = append(readerOpts, sdkmetric.WithReader(exporter))
	case ExporterNone:
	default:
		return fmt.Errorf("unsupported metrics exporter %q", i.config.MetricsExporter)
	}

	mp := sdkmetric.NewMeterProvider(readerOpts...)
	i.meterProvider = mp
	i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(i.resource)}
	for _, sp := range i.config.SpanProcessors {
		traceOpts = append(traceOpts, sdktrace.WithSpanProcessor(sp))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	i.tracerProvider = tp
	i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)

	return nil
}

// Shutdown flushes and stops all providers. Safe to call more than once.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope such as "http", "auth",
// "security", "audit" or "storage"
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	if i == nil {
		return nil
	}
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// ShouldLogClientIPs reports whether client IPs may be attached to spans
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i != nil && i.config.LogClientIPs
}

// GaugeCallback returns the current value of an observed quantity
type GaugeCallback func() int64

// RegisterGaugeCallbacks wires the observable gauges to live values.
// Nil callbacks are skipped.
func (i *Instrumentation) RegisterGaugeCallbacks(auditPending, localLimiters GaugeCallback) error {
	if i.meterProvider == nil {
		return fmt.Errorf("meter provider not initialized")
	}

	_, err := i.Meter("audit").RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			if auditPending != nil {
				observer.ObserveInt64(i.metrics.AuditPending, auditPending())
			}
			if localLimiters != nil {
				observer.ObserveInt64(i.metrics.LocalLimiters, localLimiters())
			}
			return nil
		},
		i.metrics.AuditPending,
		i.metrics.LocalLimiters,
	)
	return err
}
