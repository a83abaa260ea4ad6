// Package otel sets up the OpenTelemetry meter and tracer providers that
// procmeter instruments report through.
package otel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// DefaultExportInterval is how often the periodic reader collects and exports.
const DefaultExportInterval = 15 * time.Second

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics are exported. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// ExportInterval is the collection period of the periodic reader.
	ExportInterval time.Duration

	// RuntimeMetrics adds the Go runtime instrumentation (goroutines, GC, heap).
	RuntimeMetrics bool

	// Attributes are additional resource attributes.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:        false,
		ServiceName:    "procmeter",
		ExporterType:   ExporterNone,
		ExportInterval: DefaultExportInterval,
	}
}

// Metrics owns the meter provider every procmeter instrument is declared on.
type Metrics struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	handler       http.Handler
	shutdown      func(context.Context) error
	mu            sync.Mutex
}

// NewMetrics creates the meter provider. opts are passed to the provider
// after the configured exporter, so callers can attach extra readers.
func NewMetrics(ctx context.Context, cfg *MetricsConfig, opts ...sdkmetric.Option) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{
		config: cfg,
	}

	res, err := newResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}
	providerOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	switch {
	case !m.Enabled():
	case cfg.ExporterType == ExporterPrometheus:
		registry := prometheus.NewRegistry()
		reader, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdkmetric.WithReader(reader))
		m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
	default:
		exporter, err := m.createExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
		}

		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = DefaultExportInterval
		}
		providerOpts = append(providerOpts,
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		)
	}

	mp := sdkmetric.NewMeterProvider(append(providerOpts, opts...)...)
	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if cfg.RuntimeMetrics {
		if err := otelruntime.Start(
			otelruntime.WithMeterProvider(mp),
			otelruntime.WithMinimumReadMemStatsInterval(cfg.ExportInterval),
		); err != nil {
			_ = mp.Shutdown(ctx)
			return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
		}
	}

	return m, nil
}

// createExporter creates the appropriate metrics exporter based on configuration.
func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// Meter returns the meter instruments are declared on.
func (m *Metrics) Meter() metric.Meter {
	return m.meter
}

// Handler serves the Prometheus exposition of every instrument, or returns
// nil unless the exporter is ExporterPrometheus.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Shutdown flushes pending metrics and stops the provider. Later calls are
// no-ops.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown == nil {
		return nil
	}
	err := m.shutdown(ctx)
	m.shutdown = nil
	return err
}

// Enabled returns whether metrics are exported.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics installs m's provider as the global meter provider when
// exporting is enabled.
func SetGlobalMetrics(m *Metrics) {
	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}
