package streamgen

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the jitter/latency histogram buckets in
// nanoseconds, covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks per-process send/receive/frame statistics across every
// connection, in the vocabulary of the media-stream pattern rather than
// block-device read/write/discard/flush.
type Metrics struct {
	SendOps atomic.Uint64
	RecvOps atomic.Uint64

	SendBytes atomic.Uint64
	RecvBytes atomic.Uint64

	DroppedFrames   atomic.Uint64
	DuplicateFrames atomic.Uint64
	ErrorFrames     atomic.Uint64

	// Outstanding-receive gauge, sampled from ioshard.Shard.
	OutstandingTotal atomic.Uint64
	OutstandingCount atomic.Uint64
	MinOutstanding   atomic.Uint32

	TotalJitterNs atomic.Uint64
	JitterCount   atomic.Uint64

	// Cumulative counts: bucket[i] holds samples with jitter <= LatencyBuckets[i].
	JitterBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with its start time set.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSend records one successful or failed outbound datagram.
func (m *Metrics) RecordSend(bytes uint64, success bool) {
	m.SendOps.Add(1)
	if success {
		m.SendBytes.Add(bytes)
	} else {
		m.ErrorFrames.Add(1)
	}
}

// RecordRecv records one successfully classified received frame,
// tagging it as successful, dropped, or duplicate per the render
// classification, plus its estimated jitter.
func (m *Metrics) RecordRecv(bytes uint64, jitterNs int64, dropped, duplicate bool) {
	m.RecvOps.Add(1)
	m.RecvBytes.Add(bytes)
	switch {
	case dropped:
		m.DroppedFrames.Add(1)
	case duplicate:
		m.DuplicateFrames.Add(1)
	}
	if jitterNs >= 0 {
		m.recordJitter(uint64(jitterNs))
	}
}

// RecordError counts one protocol/transient-io error frame, independent
// of send/recv accounting.
func (m *Metrics) RecordError() {
	m.ErrorFrames.Add(1)
}

// RecordOutstanding samples a shard's current pre-posted-receive count.
func (m *Metrics) RecordOutstanding(count uint32) {
	m.OutstandingTotal.Add(uint64(count))
	m.OutstandingCount.Add(1)
	for {
		current := m.MinOutstanding.Load()
		if current != 0 && count >= current {
			break
		}
		if m.MinOutstanding.CompareAndSwap(current, count) {
			break
		}
	}
}

func (m *Metrics) recordJitter(jitterNs uint64) {
	m.TotalJitterNs.Add(jitterNs)
	m.JitterCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if jitterNs <= bucket {
			m.JitterBuckets[i].Add(1)
		}
	}
}

// Stop marks the process as stopped, fixing uptime calculations.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time read of Metrics.
type MetricsSnapshot struct {
	SendOps uint64
	RecvOps uint64

	SendBytes uint64
	RecvBytes uint64

	DroppedFrames   uint64
	DuplicateFrames uint64
	ErrorFrames     uint64

	AvgOutstanding float64
	MinOutstanding uint32

	AvgJitterNs uint64
	UptimeNs    uint64

	JitterP50Ns  uint64
	JitterP99Ns  uint64
	JitterP999Ns uint64

	JitterHistogram [numLatencyBuckets]uint64

	SendRate  float64 // bytes per second
	RecvRate  float64
	TotalOps  uint64
	LossRate  float64 // percentage of received-or-dropped frames that were dropped
}

// Snapshot produces a point-in-time MetricsSnapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SendOps:         m.SendOps.Load(),
		RecvOps:         m.RecvOps.Load(),
		SendBytes:       m.SendBytes.Load(),
		RecvBytes:       m.RecvBytes.Load(),
		DroppedFrames:   m.DroppedFrames.Load(),
		DuplicateFrames: m.DuplicateFrames.Load(),
		ErrorFrames:     m.ErrorFrames.Load(),
		MinOutstanding:  m.MinOutstanding.Load(),
	}
	snap.TotalOps = snap.SendOps + snap.RecvOps

	outstandingTotal := m.OutstandingTotal.Load()
	outstandingCount := m.OutstandingCount.Load()
	if outstandingCount > 0 {
		snap.AvgOutstanding = float64(outstandingTotal) / float64(outstandingCount)
	}

	totalJitterNs := m.TotalJitterNs.Load()
	jitterCount := m.JitterCount.Load()
	if jitterCount > 0 {
		snap.AvgJitterNs = totalJitterNs / jitterCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.SendRate = float64(snap.SendBytes) / uptimeSeconds
		snap.RecvRate = float64(snap.RecvBytes) / uptimeSeconds
	}

	successfulOrDropped := snap.RecvOps
	if successfulOrDropped > 0 {
		snap.LossRate = float64(snap.DroppedFrames) / float64(successfulOrDropped) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.JitterHistogram[i] = m.JitterBuckets[i].Load()
	}

	if jitterCount > 0 {
		snap.JitterP50Ns = m.calculatePercentile(0.50)
		snap.JitterP99Ns = m.calculatePercentile(0.99)
		snap.JitterP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the jitter at the given percentile
// (0.0-1.0) by linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.JitterCount.Load()
	if total == 0 {
		return 0
	}
	targetCount := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.JitterBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.JitterBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes every counter, for test isolation.
func (m *Metrics) Reset() {
	m.SendOps.Store(0)
	m.RecvOps.Store(0)
	m.SendBytes.Store(0)
	m.RecvBytes.Store(0)
	m.DroppedFrames.Store(0)
	m.DuplicateFrames.Store(0)
	m.ErrorFrames.Store(0)
	m.OutstandingTotal.Store(0)
	m.OutstandingCount.Store(0)
	m.MinOutstanding.Store(0)
	m.TotalJitterNs.Store(0)
	m.JitterCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.JitterBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer is the pluggable metrics-collection boundary every pattern
// and shard reports through.
type Observer interface {
	ObserveSend(bytes uint64, success bool)
	ObserveRecv(bytes uint64, jitterNs int64, dropped, duplicate bool)
	ObserveError()
	ObserveOutstanding(count uint32)
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSend(uint64, bool)                 {}
func (NoOpObserver) ObserveRecv(uint64, int64, bool, bool)    {}
func (NoOpObserver) ObserveError()                            {}
func (NoOpObserver) ObserveOutstanding(uint32)                {}

// MetricsObserver implements Observer by recording into an in-process
// Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver builds an observer recording into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSend(bytes uint64, success bool) {
	o.metrics.RecordSend(bytes, success)
}

func (o *MetricsObserver) ObserveRecv(bytes uint64, jitterNs int64, dropped, duplicate bool) {
	o.metrics.RecordRecv(bytes, jitterNs, dropped, duplicate)
}

func (o *MetricsObserver) ObserveError() {
	o.metrics.RecordError()
}

func (o *MetricsObserver) ObserveOutstanding(count uint32) {
	o.metrics.RecordOutstanding(count)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
