package connid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsUniqueAndFixedWidth(t *testing.T) {
	a := New()
	b := New()
	assert.NotEqual(t, a, b)
	assert.Len(t, a[:], Len)
}

func TestFromBytesRoundTrip(t *testing.T) {
	a := New()
	got, err := FromBytes(a[:])
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestFromBytesRejectsWrongWidth(t *testing.T) {
	_, err := FromBytes(make([]byte, Len-1))
	assert.Error(t, err)
}
