package otel

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestDefaultMetricsConfig(t *testing.T) {
	cfg := DefaultMetricsConfig()
	if cfg == nil {
		t.Fatal("DefaultMetricsConfig returned nil")
	}
	if cfg.Enabled {
		t.Error("Expected metrics to be disabled by default")
	}
	if cfg.ServiceName != "procmeter" {
		t.Errorf("Expected service name 'procmeter', got %q", cfg.ServiceName)
	}
	if cfg.ExporterType != ExporterNone {
		t.Errorf("Expected ExporterNone, got %v", cfg.ExporterType)
	}
	if cfg.ExportInterval != DefaultExportInterval {
		t.Errorf("Expected export interval %v, got %v", DefaultExportInterval, cfg.ExportInterval)
	}
}

func TestNewMetrics_Disabled(t *testing.T) {
	ctx := context.Background()

	m, err := NewMetrics(ctx, nil)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if m.Enabled() {
		t.Error("Expected metrics to be disabled")
	}
	if m.Meter() == nil {
		t.Error("Expected a meter even when disabled")
	}
}

func TestNewMetrics_StdoutExporter(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:        true,
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		ExporterType:   ExporterStdout,
		ExportInterval: time.Minute,
		Attributes: map[string]string{
			"environment": "test",
		},
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if !m.Enabled() {
		t.Error("Expected metrics to be enabled")
	}
}

func TestNewMetrics_UnknownExporter(t *testing.T) {
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterType("carrier-pigeon"),
	}

	if _, err := NewMetrics(context.Background(), cfg); err == nil {
		t.Fatal("Expected an error for an unknown exporter")
	}
}

func TestNewMetrics_Prometheus(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "scrape-test",
		ExporterType: ExporterPrometheus,
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if m.Handler() == nil {
		t.Fatal("Expected a scrape handler")
	}

	counter, err := m.Meter().Int64Counter("scrape.hits")
	if err != nil {
		t.Fatalf("Int64Counter failed: %v", err)
	}
	counter.Add(ctx, 5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "scrape_hits_total") {
		t.Errorf("Expected scrape_hits_total in exposition, got:\n%s", body)
	}
}

func TestNewMetrics_NoHandlerWithoutPrometheus(t *testing.T) {
	ctx := context.Background()

	m, err := NewMetrics(ctx, &MetricsConfig{Enabled: true, ServiceName: "x", ExporterType: ExporterStdout})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if m.Handler() != nil {
		t.Error("Expected no scrape handler for the stdout exporter")
	}
}

func TestNewMetrics_ExtraReader(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()

	cfg := DefaultMetricsConfig()
	cfg.ServiceName = "reader-test"
	cfg.ServiceVersion = "2.3.4"

	m, err := NewMetrics(ctx, cfg, sdkmetric.WithReader(reader))
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	counter, err := m.Meter().Int64Counter("test.counter")
	if err != nil {
		t.Fatalf("Int64Counter failed: %v", err)
	}
	counter.Add(ctx, 3)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	name, ok := rm.Resource.Set().Value("service.name")
	if !ok || name.AsString() != "reader-test" {
		t.Errorf("Expected service.name 'reader-test', got %q", name.AsString())
	}
	version, ok := rm.Resource.Set().Value("service.version")
	if !ok || version.AsString() != "2.3.4" {
		t.Errorf("Expected service.version '2.3.4', got %q", version.AsString())
	}

	if len(rm.ScopeMetrics) != 1 || len(rm.ScopeMetrics[0].Metrics) != 1 {
		t.Fatalf("Expected one metric, got %+v", rm.ScopeMetrics)
	}
	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
		t.Errorf("Expected counter value 3, got %+v", rm.ScopeMetrics[0].Metrics[0].Data)
	}
}

func TestNewMetrics_RuntimeMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()

	cfg := DefaultMetricsConfig()
	cfg.RuntimeMetrics = true

	m, err := NewMetrics(ctx, cfg, sdkmetric.WithReader(reader))
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	found := false
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name == "go.opentelemetry.io/contrib/instrumentation/runtime" && len(sm.Metrics) > 0 {
			found = true
		}
	}
	if !found {
		t.Error("Expected runtime instrumentation metrics")
	}
}

func TestMetricsShutdown(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterStdout,
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := m.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
	if err := m.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Second Shutdown failed: %v", err)
	}
}

func TestParseExporterType(t *testing.T) {
	tests := []struct {
		in      string
		want    ExporterType
		wantErr bool
	}{
		{"", ExporterNone, false},
		{"none", ExporterNone, false},
		{"stdout", ExporterStdout, false},
		{"otlp-grpc", ExporterOTLPGRPC, false},
		{"otlp-http", ExporterOTLPHTTP, false},
		{"prometheus", ExporterPrometheus, false},
		{"zipkin", "", true},
	}

	for _, tt := range tests {
		got, err := ParseExporterType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseExporterType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseExporterType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
