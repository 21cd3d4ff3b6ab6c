// Package ratelimit implements the send-side rate-limit policies a pattern
// can apply to outgoing tasks: an unthrottled pass-through, and a
// quantum-anchored token bucket paced against a target byte rate.
package ratelimit

// Policy decides how long a send of n bytes issued at nowMs must be
// deferred before it is allowed onto the wire.
type Policy interface {
	// Admit returns the delay, in milliseconds, the caller must add to the
	// task's time_offset_ms before the given send may proceed.
	Admit(nowMs int64, bytes int) int64
}

// DontThrottle never delays a send.
type DontThrottle struct{}

// Admit always permits immediately.
func (DontThrottle) Admit(int64, int) int64 { return 0 }

// Throttle is a quantum-anchored token bucket: bytesPerQuantum is the
// budget spent within a quantum_ms window before sends must wait for the
// next quantum boundary. Within that backstop, each task is additionally
// paced against bytesPerSecond using a GCRA-style virtual send time, so a
// single oversized send cannot itself exceed the target rate even when the
// quantum budget alone would still have room — two back-to-back sends at
// t=0 that together fit under bytesPerQuantum still get spaced apart by
// the time a continuous stream at the target rate would take to drain
// them.
//
// The quantum start time is anchored at the first Admit call and only
// ever advances, per the signed 64-bit millisecond arithmetic the policy
// is defined over.
type Throttle struct {
	bytesPerSecond  int64
	quantumMs       int64
	bytesPerQuantum int64

	started        bool
	quantumStartMs int64
	bytesInQuantum int64
	nextSendMs     int64
}

// NewThrottle builds a Throttle for the given target rate and quantum
// width. bytesPerQuantum is derived exactly as bytesPerSecond * quantumMs
// / 1000, truncated toward zero.
func NewThrottle(bytesPerSecond, quantumMs int64) *Throttle {
	return &Throttle{
		bytesPerSecond:  bytesPerSecond,
		quantumMs:       quantumMs,
		bytesPerQuantum: bytesPerSecond * quantumMs / 1000,
	}
}

// BytesPerQuantum reports the configured per-quantum byte budget.
func (t *Throttle) BytesPerQuantum() int64 { return t.bytesPerQuantum }

// Admit applies the quantum budget and per-task pacing rules described on
// Throttle, updating internal bookkeeping, and returns the millisecond
// delay the caller must honor before sending.
func (t *Throttle) Admit(nowMs int64, bytes int) int64 {
	if !t.started {
		t.started = true
		t.quantumStartMs = nowMs
		t.nextSendMs = nowMs
	}

	n := int64(bytes)
	var offset int64
	var requiredMs int64
	if t.bytesPerSecond > 0 {
		requiredMs = n * 1000 / t.bytesPerSecond
	}
	if nowMs >= t.nextSendMs {
		t.nextSendMs = nowMs + requiredMs
	} else {
		offset = t.nextSendMs - nowMs
		t.nextSendMs += requiredMs
	}

	t.bytesInQuantum += n
	if t.bytesPerQuantum > 0 && t.bytesInQuantum > t.bytesPerQuantum {
		elapsed := nowMs - t.quantumStartMs
		elapsedQuanta := elapsed/t.quantumMs + 1
		t.quantumStartMs += elapsedQuanta * t.quantumMs
		t.bytesInQuantum = n
		if quantumOffset := t.quantumStartMs - nowMs; quantumOffset > offset {
			offset = quantumOffset
		}
	}
	return offset
}
