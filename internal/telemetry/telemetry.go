package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"google.golang.org/grpc/credentials"

	"github.com/BaSui01/hrmflow/config"
	"github.com/BaSui01/hrmflow/internal/tlsutil"
)

// =============================================================================
// 📡 Providers
// =============================================================================

// Providers holds the SDK providers registered as otel globals.
// Both are nil when telemetry is disabled.
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Option customizes Init.
type Option func(*options)

type options struct {
	version    string
	attributes []attribute.KeyValue
}

// WithServiceVersion overrides the version read from build info.
func WithServiceVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithAttributes adds resource attributes, e.g. the deployment environment.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(o *options) { o.attributes = append(o.attributes, attrs...) }
}

// Init installs OTLP gRPC trace and metric pipelines as otel globals.
// The engine's "hrm.execute" spans and the HTTP middleware spans flow
// through them. Disabled config yields a noop Providers.
func Init(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger, opts ...Option) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "telemetry"))
	if !cfg.Enabled {
		logger.Info("telemetry disabled")
		return &Providers{}, nil
	}

	o := options{version: buildVersion()}
	for _, opt := range opts {
		opt(&o)
	}

	res, err := newResource(ctx, cfg.ServiceName, o)
	if err != nil {
		return nil, err
	}
	creds, err := transportCredentials(cfg)
	if err != nil {
		return nil, err
	}

	tp, err := newTracerProvider(ctx, cfg, res, creds)
	if err != nil {
		return nil, err
	}
	mp, err := newMeterProvider(ctx, cfg, res, creds)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service", cfg.ServiceName),
		zap.String("version", o.version),
		zap.Bool("tls", creds != nil),
		zap.Float64("sample_rate", cfg.SampleRate),
		zap.Duration("export_interval", cfg.ExportInterval))
	return &Providers{tp: tp, mp: mp}, nil
}

func newResource(ctx context.Context, service string, o options) (*resource.Resource, error) {
	attrs := make([]attribute.KeyValue, 0, len(o.attributes)+2)
	attrs = append(attrs,
		semconv.ServiceNameKey.String(service),
		semconv.ServiceVersionKey.String(o.version),
	)
	attrs = append(attrs, o.attributes...)
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	return res, nil
}

// transportCredentials returns nil for plaintext gRPC.
func transportCredentials(cfg config.TelemetryConfig) (credentials.TransportCredentials, error) {
	if cfg.Insecure {
		return nil, nil
	}
	tlsCfg, err := tlsutil.ClientConfigWithCA(cfg.OTLPEndpoint, cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("telemetry tls: %w", err)
	}
	return credentials.NewTLS(tlsCfg), nil
}

func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, creds credentials.TransportCredentials) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if creds == nil {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(creds))
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	// 跟随上游采样决策，根 span 按比例采样
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	), nil
}

func newMeterProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, creds credentials.TransportCredentials) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if creds == nil {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	} else {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(creds))
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}
	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.ExportInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.ExportInterval))
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)),
		sdkmetric.WithResource(res),
	), nil
}

// Enabled reports whether real exporters are installed.
func (p *Providers) Enabled() bool {
	return p != nil && p.tp != nil
}

// Shutdown flushes pending spans and metrics. Safe on nil and noop values.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}
