// Package prom adapts the streamgen Observer interface to Prometheus
// collectors: frame counters broken out by result, byte counters, and a
// jitter histogram.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ehrlich-b/streamgen"
)

// Observer implements streamgen.Observer by feeding Prometheus
// collectors instead of (or alongside) an in-process Metrics struct.
type Observer struct {
	frames   *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	jitter   prometheus.Histogram
	outstand prometheus.Gauge
}

// NewObserver registers a fresh set of collectors against reg and returns
// an Observer that feeds them.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgen_frames_total",
			Help: "Frames processed, labeled by result.",
		}, []string{"result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgen_bytes_total",
			Help: "Bytes transferred, labeled by direction.",
		}, []string{"direction"}),
		jitter: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamgen_jitter_ms",
			Help:    "Estimated time-in-flight for rendered frames, in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		outstand: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamgen_shard_outstanding_recv",
			Help: "Most recently sampled count of pre-posted receives on a shard.",
		}),
	}
	for _, c := range []prometheus.Collector{o.frames, o.bytes, o.jitter, o.outstand} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// ObserveSend implements streamgen.Observer.
func (o *Observer) ObserveSend(bytes uint64, success bool) {
	if success {
		o.bytes.WithLabelValues("send").Add(float64(bytes))
		o.frames.WithLabelValues("sent").Inc()
	} else {
		o.frames.WithLabelValues("send-error").Inc()
	}
}

// ObserveRecv implements streamgen.Observer.
func (o *Observer) ObserveRecv(bytes uint64, jitterNs int64, dropped, duplicate bool) {
	o.bytes.WithLabelValues("recv").Add(float64(bytes))
	switch {
	case dropped:
		o.frames.WithLabelValues("dropped").Inc()
	case duplicate:
		o.frames.WithLabelValues("duplicate").Inc()
	default:
		o.frames.WithLabelValues("successful").Inc()
	}
	if jitterNs >= 0 {
		o.jitter.Observe(float64(jitterNs) / 1e6)
	}
}

// ObserveError implements streamgen.Observer.
func (o *Observer) ObserveError() {
	o.frames.WithLabelValues("error").Inc()
}

// ObserveOutstanding implements streamgen.Observer.
func (o *Observer) ObserveOutstanding(count uint32) {
	o.outstand.Set(float64(count))
}

var _ streamgen.Observer = (*Observer)(nil)
