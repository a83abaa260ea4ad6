package otel

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ExporterType selects where telemetry is sent.
type ExporterType string

const (
	// ExporterNone disables exporting (no-op).
	ExporterNone ExporterType = "none"
	// ExporterStdout writes telemetry to stdout (useful for debugging).
	ExporterStdout ExporterType = "stdout"
	// ExporterOTLPGRPC exports via OTLP over gRPC.
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	// ExporterOTLPHTTP exports via OTLP over HTTP.
	ExporterOTLPHTTP ExporterType = "otlp-http"
	// ExporterPrometheus serves metrics for scraping. Metrics only.
	ExporterPrometheus ExporterType = "prometheus"
)

// ParseExporterType validates s. An empty string means ExporterNone.
func ParseExporterType(s string) (ExporterType, error) {
	switch t := ExporterType(s); t {
	case "":
		return ExporterNone, nil
	case ExporterNone, ExporterStdout, ExporterOTLPGRPC, ExporterOTLPHTTP, ExporterPrometheus:
		return t, nil
	default:
		return "", fmt.Errorf("unknown exporter type: %s", s)
	}
}

// newResource describes the service on every exported metric and span.
func newResource(serviceName, serviceVersion string, extra map[string]string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
	}

	if serviceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(serviceVersion))
	}

	for k, v := range extra {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}
