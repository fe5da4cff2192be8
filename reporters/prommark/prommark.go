// Package prommark reports perfmark timings as a Prometheus histogram.
//
//	//perfmark:mark prommark.Observe
//	func rebuildIndex() error { ... }
package prommark

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	perfmark "github.com/mrproliu/go-perfmark"
)

const (
	MetricName    = "perfmark_duration_seconds"
	FunctionLabel = "function"
)

// Observer records timings into a HistogramVec labelled by function.
type Observer struct {
	durations *prometheus.HistogramVec
}

// NewObserver creates the histogram and registers it with reg. A nil reg leaves it unregistered.
func NewObserver(reg prometheus.Registerer, buckets []float64) (*Observer, error) {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	durations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricName,
			Help:    "Duration of functions instrumented by perfmark.",
			Buckets: buckets,
		},
		[]string{FunctionLabel},
	)
	if reg != nil {
		if err := reg.Register(durations); err != nil {
			return nil, err
		}
	}
	return &Observer{durations: durations}, nil
}

func (o *Observer) Observe(lc perfmark.LogContext) {
	o.durations.WithLabelValues(lc.Function).Observe(lc.Duration.Seconds())
}

// Collector exposes the histogram, for registries the observer was not created with.
func (o *Observer) Collector() prometheus.Collector {
	return o.durations
}

var (
	defaultOnce     sync.Once
	defaultObserver *Observer
)

// Observe records lc with an observer registered on prometheus.DefaultRegisterer.
func Observe(lc perfmark.LogContext) {
	defaultOnce.Do(func() {
		observer, err := NewObserver(nil, nil)
		if err != nil {
			panic(err)
		}
		prometheus.MustRegister(observer.durations)
		defaultObserver = observer
	})
	defaultObserver.Observe(lc)
}
