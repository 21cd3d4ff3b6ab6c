// Package clock provides the monotonic time source shared by the pattern,
// executor, and rate-limit layers. It mirrors a QPC/QPF style API: a tick
// counter plus a frequency, so wire timestamps (sender_qpc/sender_qpf) and
// local deadlines are computed the same way on both sides of a stream.
package clock

import (
	"sync"
	"time"
)

var (
	freqOnce sync.Once
	freq     int64
	start    time.Time
)

func init() {
	// Capture the process-relative start instant immediately; the
	// frequency itself is captured lazily via initFrequency so the first
	// caller (from any goroutine) pays the one-time cost under a guard.
	start = time.Now()
}

// initFrequency caches the tick frequency once per process. On every
// platform Go runs on, a time.Duration tick is one nanosecond, so the
// "frequency" is a constant; the guard exists because the design this
// mirrors captures a hardware counter frequency exactly once and the
// shared code path (and its concurrency guarantees) should look the same
// here even though there's no hardware register to read.
func initFrequency() {
	freqOnce.Do(func() {
		freq = int64(time.Second)
	})
}

// Frequency returns the tick rate (ticks per second) used to interpret
// values returned by NowTicks. It is safe to call concurrently with the
// very first call to any function in this package.
func Frequency() int64 {
	initFrequency()
	return freq
}

// NowTicks returns a monotonic tick count since process start, at
// Frequency() ticks per second. This is the QPC-equivalent value carried
// in wire frames as sender/receiver timestamps.
func NowTicks() int64 {
	initFrequency()
	return time.Since(start).Nanoseconds()
}

// NowMillis returns a monotonic millisecond count since process start.
func NowMillis() int64 {
	return NowTicks() / 1_000_000
}

// RelativeDeadline converts a millisecond delay into a time.Duration
// suitable for arming a platform timer.
func RelativeDeadline(ms int64) time.Duration {
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}
