package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDontThrottleNeverDelays(t *testing.T) {
	var p DontThrottle
	assert.Equal(t, int64(0), p.Admit(0, 1_000_000))
	assert.Equal(t, int64(0), p.Admit(0, 1_000_000))
}

func TestThrottlePinnedBoundary(t *testing.T) {
	th := NewThrottle(8_000_000, 100)
	assert.Equal(t, int64(800_000), th.BytesPerQuantum())

	first := th.Admit(0, 100_000)
	assert.Equal(t, int64(0), first)

	second := th.Admit(0, 100_000)
	assert.GreaterOrEqual(t, second, int64(10))
}

func TestThrottleAdmitsAfterDelayElapses(t *testing.T) {
	th := NewThrottle(8_000_000, 100)
	th.Admit(0, 100_000)
	delay := th.Admit(0, 100_000)
	require := delay
	assert.GreaterOrEqual(t, require, int64(10))

	// once enough wall-clock time has actually passed, the next send is
	// immediate again.
	third := th.Admit(100, 100_000)
	assert.Equal(t, int64(0), third)
}
