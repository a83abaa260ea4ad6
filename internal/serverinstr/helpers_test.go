package serverinstr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type staticCounter struct {
	n   int
	err error
}

func (c staticCounter) ConnectionCount() (int, error) { return c.n, c.err }

type metricsHarness struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func newMetricsHarness(t *testing.T) *metricsHarness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return &metricsHarness{reader: reader, provider: provider}
}

func (h *metricsHarness) newInstrumentor(t *testing.T, counter ConnectionCounter) *Instrumentor {
	t.Helper()
	inst, err := New(h.provider.Meter("serverinstr-test"), counter)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

func (h *metricsHarness) collect(t *testing.T) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, h.reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

// int64Points returns the points of an int64 sum keyed by the value of key,
// or by "" when key is empty.
func int64Points(t *testing.T, m metricdata.Metrics, key string) map[string]int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "unexpected aggregation %T for %s", m.Data, m.Name)

	out := make(map[string]int64, len(sum.DataPoints))
	for _, dp := range sum.DataPoints {
		label := ""
		if key != "" {
			v, ok := dp.Attributes.Value(attribute.Key(key))
			require.True(t, ok, "point without %s on %s", key, m.Name)
			label = v.Emit()
		}
		out[label] = dp.Value
	}
	return out
}

func activeValue(t *testing.T, got map[string]metricdata.Metrics) float64 {
	t.Helper()
	m, ok := got[MetricConnectionsActive]
	require.True(t, ok, "missing %s", MetricConnectionsActive)
	sum, ok := m.Data.(metricdata.Sum[float64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	return sum.DataPoints[0].Value
}
