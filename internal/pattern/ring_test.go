package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingSeededConsecutively(t *testing.T) {
	r := NewRing(4)
	for i := 0; i < 4; i++ {
		assert.Equal(t, int64(i+1), r.Slot(i).SequenceNumber)
	}
}

func TestRingAdvanceInvariant(t *testing.T) {
	const size = 60
	r := NewRing(size)
	for k := 1; k <= 200; k++ {
		r.Advance()
		assert.Equal(t, int64(1+k), r.Head().SequenceNumber, "after %d renders", k)
	}
}

func TestRingFindWithinWindow(t *testing.T) {
	r := NewRing(4)
	for seq := int64(1); seq <= 4; seq++ {
		slot, ok := r.Find(seq)
		require.True(t, ok)
		assert.Equal(t, seq, slot.SequenceNumber)
	}
}

func TestRingFindOutOfWindow(t *testing.T) {
	r := NewRing(4)
	_, ok := r.Find(0)
	assert.False(t, ok)
	_, ok = r.Find(5)
	assert.False(t, ok)
}

func TestRingFindAfterAdvance(t *testing.T) {
	r := NewRing(4)
	r.Advance() // head now seq=2, slot0 rewritten to seq=5
	for seq := int64(2); seq <= 5; seq++ {
		slot, ok := r.Find(seq)
		require.True(t, ok, "seq %d should resolve", seq)
		assert.Equal(t, seq, slot.SequenceNumber)
	}
	_, ok := r.Find(1)
	assert.False(t, ok)
	_, ok = r.Find(6)
	assert.False(t, ok)
}
