// Package otelmark reports perfmark timings to OpenTelemetry.
//
// Record has the signature of an async callback:
//
//	//perfmark:mark async otelmark.Record
//	func handle(ctx context.Context, req *Request) error { ... }
//
// Each timing is written to the perfmark.duration histogram and, when ctx carries a
// recording span, added to it as an event.
package otelmark

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	perfmark "github.com/mrproliu/go-perfmark"
)

const (
	ScopeName  = "github.com/mrproliu/go-perfmark/reporters/otelmark"
	MetricName = "perfmark.duration"
	EventName  = "perfmark"

	FunctionKey = attribute.Key("function")
	DurationKey = attribute.Key("perfmark.duration_ms")
)

// Recorder writes timings into a histogram of a MeterProvider.
type Recorder struct {
	histogram metric.Float64Histogram
}

func NewRecorder(provider metric.MeterProvider) (*Recorder, error) {
	histogram, err := provider.Meter(ScopeName).Float64Histogram(MetricName,
		metric.WithUnit("s"),
		metric.WithDescription("Duration of functions instrumented by perfmark."))
	if err != nil {
		return nil, err
	}
	return &Recorder{histogram: histogram}, nil
}

func (r *Recorder) Record(ctx context.Context, lc perfmark.LogContext) {
	function := FunctionKey.String(lc.Function)
	r.histogram.Record(ctx, lc.Duration.Seconds(), metric.WithAttributes(function))

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(EventName, trace.WithAttributes(function,
		DurationKey.Float64(float64(lc.Duration.Microseconds())/1000)))
}

var (
	globalOnce     sync.Once
	globalRecorder *Recorder
)

// Record reports lc through the global MeterProvider. Instruments created before
// otel.SetMeterProvider are forwarded to the provider once it is set.
func Record(ctx context.Context, lc perfmark.LogContext) {
	globalOnce.Do(func() {
		recorder, err := NewRecorder(otel.GetMeterProvider())
		if err != nil {
			otel.Handle(err)
			return
		}
		globalRecorder = recorder
	})
	if globalRecorder != nil {
		globalRecorder.Record(ctx, lc)
	}
}
