package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	metricSdk "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	traceSdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// ForTest is Telemetry with in-memory exporters.
type ForTest interface {
	Telemetry
	Spans() tracetest.SpanStubs
	CounterValue(t *testing.T, name string) int64
}

type forTest struct {
	Telemetry
	spans  *tracetest.InMemoryExporter
	reader *metricSdk.ManualReader
}

func NewForTest(t *testing.T) ForTest {
	t.Helper()

	spans := tracetest.NewInMemoryExporter()
	reader := metricSdk.NewManualReader()
	tracerProvider := traceSdk.NewTracerProvider(traceSdk.WithSyncer(spans))
	meterProvider := metricSdk.NewMeterProvider(metricSdk.WithReader(reader))

	t.Cleanup(func() {
		_ = tracerProvider.Shutdown(context.Background())
		_ = meterProvider.Shutdown(context.Background())
	})

	return &forTest{
		Telemetry: New(tracerProvider, meterProvider),
		spans:     spans,
		reader:    reader,
	}
}

func (v *forTest) Spans() tracetest.SpanStubs {
	return v.spans.GetSpans()
}

// CounterValue returns sum of all data points of the Int64 counter, 0 if the counter is not found.
func (v *forTest) CounterValue(t *testing.T, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, v.reader.Collect(context.Background(), &rm))

	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, point := range sum.DataPoints {
					total += point.Value
				}
			}
		}
	}
	return total
}
