// Package observability wires OpenTelemetry for the test-database orchestrator: an
// optional OTLP export pipeline and the instruments describing database lifecycles.
package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the scope name of every tracer and meter of this module.
const InstrumentationName = "github.com/LerianStudio/lib-dbtest"

// Config holds the configuration for the telemetry provider.
type Config struct {
	// ServiceName is reported as service.name; usually the test binary.
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// Environment is reported as deployment.environment.
	Environment string

	// CollectorEndpoint is the OTLP gRPC endpoint. Empty disables export.
	CollectorEndpoint string

	// Insecure disables TLS for the gRPC exporters.
	Insecure bool

	// TraceSampleRate is the ratio of traces kept (0.0 to 1.0).
	TraceSampleRate float64

	// EnabledComponents controls which signals are exported.
	EnabledComponents EnabledComponents

	// Attributes are added to the resource of every signal.
	Attributes []attribute.KeyValue
}

// EnabledComponents controls which signals are exported.
type EnabledComponents struct {
	Tracing bool
	Metrics bool
	Logging bool
}

// Option configures the provider Config.
type Option func(*Config) error

// WithServiceName sets the service name.
func WithServiceName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return errors.New("service name cannot be empty")
		}

		c.ServiceName = name

		return nil
	}
}

// WithServiceVersion sets the service version.
func WithServiceVersion(version string) Option {
	return func(c *Config) error {
		if version == "" {
			return errors.New("service version cannot be empty")
		}

		c.ServiceVersion = version

		return nil
	}
}

// WithEnvironment sets the deployment environment.
func WithEnvironment(env string) Option {
	return func(c *Config) error {
		if env == "" {
			return errors.New("environment cannot be empty")
		}

		c.Environment = env

		return nil
	}
}

// WithCollectorEndpoint sets the OTLP collector endpoint. An empty endpoint is accepted
// and leaves export disabled.
func WithCollectorEndpoint(endpoint string) Option {
	return func(c *Config) error {
		c.CollectorEndpoint = endpoint
		return nil
	}
}

// WithInsecure disables TLS for gRPC connections.
func WithInsecure(insecure bool) Option {
	return func(c *Config) error {
		c.Insecure = insecure
		return nil
	}
}

// WithTraceSampleRate sets the sampling rate for traces.
func WithTraceSampleRate(rate float64) Option {
	return func(c *Config) error {
		if rate < 0.0 || rate > 1.0 {
			return errors.New("trace sample rate must be between 0.0 and 1.0")
		}

		c.TraceSampleRate = rate

		return nil
	}
}

// WithComponentEnabled enables or disables specific signals.
func WithComponentEnabled(tracing, metrics, logging bool) Option {
	return func(c *Config) error {
		c.EnabledComponents.Tracing = tracing
		c.EnabledComponents.Metrics = metrics
		c.EnabledComponents.Logging = logging

		return nil
	}
}

// WithAttributes adds resource attributes.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(c *Config) error {
		c.Attributes = append(c.Attributes, attrs...)
		return nil
	}
}

// DefaultConfig returns a configuration with export disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:     "dbtest",
		ServiceVersion:  "0.0.0",
		Environment:     "test",
		TraceSampleRate: 1.0,
		EnabledComponents: EnabledComponents{
			Tracing: true,
			Metrics: true,
			Logging: true,
		},
	}
}

// Provider owns the SDK providers installed as OpenTelemetry globals.
type Provider struct {
	config            *Config
	enabled           bool
	shutdownFunctions []func(context.Context) error
}

// New builds the export pipeline and installs it globally. Without a collector endpoint
// nothing is installed and the global (no-op unless configured elsewhere) providers stay.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	config := DefaultConfig()

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	provider := &Provider{config: config}

	if config.CollectorEndpoint == "" {
		return provider, nil
	}

	res, err := provider.createResource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if config.EnabledComponents.Tracing {
		if err := provider.initTracing(ctx, res); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	if config.EnabledComponents.Metrics {
		if err := provider.initMetrics(ctx, res); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	if config.EnabledComponents.Logging {
		if err := provider.initLogging(ctx, res); err != nil {
			return nil, fmt.Errorf("failed to initialize logging: %w", err)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	provider.enabled = true

	return provider, nil
}

func (p *Provider) createResource() (*sdkresource.Resource, error) {
	attributes := []attribute.KeyValue{
		semconv.ServiceNameKey.String(p.config.ServiceName),
		semconv.ServiceVersionKey.String(p.config.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(p.config.Environment),
	}

	attributes = append(attributes, p.config.Attributes...)

	return sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(semconv.SchemaURL, attributes...),
	)
}

func (p *Provider) initTracing(ctx context.Context, res *sdkresource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.CollectorEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(p.config.TraceSampleRate)),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tracerProvider)

	p.shutdownFunctions = append(p.shutdownFunctions, tracerProvider.Shutdown)

	return nil
}

func (p *Provider) initMetrics(ctx context.Context, res *sdkresource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.CollectorEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)

	otel.SetMeterProvider(meterProvider)

	p.shutdownFunctions = append(p.shutdownFunctions, meterProvider.Shutdown)

	return nil
}

// initLogging installs the global log provider picked up by the otelzap core.
func (p *Provider) initLogging(ctx context.Context, res *sdkresource.Resource) error {
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(p.config.CollectorEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}

	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create log exporter: %w", err)
	}

	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	global.SetLoggerProvider(loggerProvider)

	p.shutdownFunctions = append(p.shutdownFunctions, loggerProvider.Shutdown)

	return nil
}

// Tracer returns the module tracer from the global provider.
//
//nolint:ireturn
func (p *Provider) Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Meter returns the module meter from the global provider.
//
//nolint:ireturn
func (p *Provider) Meter() metric.Meter {
	return otel.Meter(InstrumentationName)
}

// IsEnabled reports whether an export pipeline was installed.
func (p *Provider) IsEnabled() bool {
	return p.enabled
}

// Shutdown flushes and stops every installed provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.enabled {
		return nil
	}

	p.enabled = false

	var errs []error

	for _, shutdownFn := range p.shutdownFunctions {
		if err := shutdownFn(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}

	return nil
}

// WithSpan runs fn inside a span named name and records its error.
func WithSpan(ctx context.Context, tracer trace.Tracer, name string, fn func(context.Context) error, opts ...trace.SpanStartOption) error {
	ctx, span := tracer.Start(ctx, name, opts...)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}
