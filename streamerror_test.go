package streamgen

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindClassification(t *testing.T) {
	e := NewSetupError("bind", 2, syscall.EADDRINUSE)
	assert.True(t, IsKind(e, KindSetup))
	assert.False(t, IsKind(e, KindProtocol))
	assert.Contains(t, e.Error(), "shard=2")
}

func TestTransientIOErrorCapturesErrno(t *testing.T) {
	e := NewTransientIOError("recv", "abc123", syscall.ECONNREFUSED)
	assert.Equal(t, syscall.ECONNREFUSED, e.Errno)
	assert.True(t, errors.Is(e, syscall.ECONNREFUSED))
}

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	a := NewProtocolError("parse", "conn-a", "unknown sequence number")
	b := &Error{Kind: KindProtocol}
	assert.True(t, errors.Is(a, b))

	c := NewBrokerInvariantError("initiating_io", "pending <= 0")
	assert.False(t, errors.Is(a, c))
}
