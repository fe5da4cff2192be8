package otelmark

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	perfmark "github.com/mrproliu/go-perfmark"
)

func collectHistogram(t *testing.T, reader sdkmetric.Reader) metricdata.Histogram[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != ScopeName {
			continue
		}
		for _, m := range scope.Metrics {
			if m.Name == MetricName {
				histogram, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				return histogram
			}
		}
	}
	require.FailNow(t, "histogram not collected")
	return metricdata.Histogram[float64]{}
}

func TestRecorderHistogram(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	recorder, err := NewRecorder(provider)
	require.NoError(t, err)
	recorder.Record(context.Background(), perfmark.LogContext{Function: "load", Duration: 250 * time.Millisecond})
	recorder.Record(context.Background(), perfmark.LogContext{Function: "load", Duration: 750 * time.Millisecond})
	recorder.Record(context.Background(), perfmark.LogContext{Function: "(*Server).Handle", Duration: time.Second})

	histogram := collectHistogram(t, reader)
	require.Len(t, histogram.DataPoints, 2)
	byFunction := make(map[string]metricdata.HistogramDataPoint[float64])
	for _, dp := range histogram.DataPoints {
		function, ok := dp.Attributes.Value(FunctionKey)
		require.True(t, ok)
		byFunction[function.AsString()] = dp
	}

	assert.Equal(t, uint64(2), byFunction["load"].Count)
	assert.InDelta(t, 1.0, byFunction["load"].Sum, 1e-9)
	assert.Equal(t, uint64(1), byFunction["(*Server).Handle"].Count)
}

func TestRecorderSpanEvent(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)).Tracer("test")

	recorder, err := NewRecorder(sdkmetric.NewMeterProvider())
	require.NoError(t, err)

	ctx, span := tracer.Start(context.Background(), "request")
	recorder.Record(ctx, perfmark.LogContext{Function: "fetch", Duration: 1500 * time.Microsecond})
	span.End()

	ended := spans.Ended()
	require.Len(t, ended, 1)
	events := ended[0].Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventName, events[0].Name)
	assert.Contains(t, events[0].Attributes, FunctionKey.String("fetch"))
	assert.Contains(t, events[0].Attributes, attribute.Float64(string(DurationKey), 1.5))
}

func TestRecorderWithoutSpan(t *testing.T) {
	recorder, err := NewRecorder(sdkmetric.NewMeterProvider())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		recorder.Record(context.Background(), perfmark.LogContext{Function: "idle"})
	})
}

func TestGlobalRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()
	otel.SetMeterProvider(provider)

	err := perfmark.Await(context.Background(), func() {
		Record(context.Background(), perfmark.LogContext{Function: "global", Duration: time.Millisecond})
	})
	require.NoError(t, err)

	histogram := collectHistogram(t, reader)
	require.Len(t, histogram.DataPoints, 1)
	assert.Equal(t, uint64(1), histogram.DataPoints[0].Count)
}
