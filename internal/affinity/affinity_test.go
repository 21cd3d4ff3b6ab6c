package affinity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unionMask(entries []Entry) uint64 {
	var u uint64
	for _, e := range entries {
		u |= e.Mask
	}
	return u
}

func TestComputeShardAffinitiesNone(t *testing.T) {
	plan, err := ComputeShardAffinities(4, None)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 4)
	for _, e := range plan.Entries {
		assert.False(t, e.Bound)
		assert.Equal(t, uint64(0), e.Mask)
	}
}

func TestComputeShardAffinitiesAbsent(t *testing.T) {
	plan, err := ComputeShardAffinities(0, PerCpu)
	require.NoError(t, err)
	assert.True(t, plan.Absent)

	plan, err = ComputeShardAffinities(4, Manual)
	require.NoError(t, err)
	assert.True(t, plan.Absent)
}

func TestComputeShardAffinitiesPerCpuSingleShard(t *testing.T) {
	plan, err := ComputeShardAffinities(1, PerCpu)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 1)
	e := plan.Entries[0]
	assert.True(t, e.Bound)
	assert.Equal(t, uint16(0), e.Group)
	// single-bit mask
	assert.Equal(t, e.Mask&(e.Mask-1), uint64(0))
	assert.NotEqual(t, uint64(0), e.Mask)
}

func TestComputeShardAffinitiesPerCpuEntryCountAndNonEmpty(t *testing.T) {
	for _, policy := range []Policy{PerCpu, RssAligned} {
		plan, err := ComputeShardAffinities(8, policy)
		require.NoError(t, err)
		require.Len(t, plan.Entries, 8)
		for _, e := range plan.Entries {
			assert.True(t, e.Bound)
			assert.NotEqual(t, uint64(0), e.Mask)
		}
	}
}

func TestComputeShardAffinitiesPerGroupFullMask(t *testing.T) {
	plan, err := ComputeShardAffinities(3, PerGroup)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 3)
	for _, e := range plan.Entries {
		assert.True(t, e.Bound)
		assert.NotEqual(t, uint64(0), e.Mask)
	}
	// every entry round-robins over the same single group on this host, so
	// they should all carry the identical full mask.
	assert.Equal(t, plan.Entries[0].Mask, plan.Entries[1].Mask)
}

func TestFullMaskClamps(t *testing.T) {
	assert.Equal(t, uint64(0), fullMask(0))
	assert.Equal(t, uint64(0b111), fullMask(3))
	assert.Equal(t, ^uint64(0), fullMask(128))
}

func TestApplyNoOpForUnbound(t *testing.T) {
	assert.NoError(t, Apply(Entry{Bound: false}))
}
